// Package catalog defines which follow-up reminders exist: their day offsets
// from discharge, display labels and patient-facing message templates. The
// built-in set covers the standard post-discharge checkpoints and can be
// replaced wholesale from a YAML file.
package catalog

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"followup/internal/models"
)

// FallbackMessage is sent for reminder types that have no template.
const FallbackMessage = "🔔 เตือนความจำ: กรุณาติดตามสุขภาพของคุณ"

type Entry struct {
	OffsetDays int    `yaml:"offset_days"`
	Label      string `yaml:"label"`
	Template   string `yaml:"template"`
}

type Catalog struct {
	entries map[models.ReminderType]Entry
	order   []models.ReminderType
}

// Default returns the standard day 3/7/14/30 follow-up set.
func Default() *Catalog {
	return build(map[models.ReminderType]Entry{
		models.TypeDay3: {
			OffsetDays: 3,
			Label:      "3-day follow-up",
			Template: "👋 สวัสดีค่ะ\n\n" +
				"📅 วันนี้เป็นวันที่ 3 หลังจำหน่ายแล้วค่ะ\n\n" +
				"🩹 แผลหายดีไหมคะ?\n" +
				"🌡️ มีไข้หรืออาการผิดปกติไหม?\n\n" +
				"💬 กรุณารายงานอาการด้วยนะคะ\n" +
				"พิมพ์: 'รายงานอาการ' เพื่อเริ่มบันทึก",
		},
		models.TypeDay7: {
			OffsetDays: 7,
			Label:      "7-day follow-up",
			Template: "📅 เตือนความจำค่ะ\n\n" +
				"วันนี้เป็นสัปดาห์แรกหลังจำหน่ายแล้ว\n" +
				"ถึงเวลานัดตรวจครั้งแรกค่ะ 🏥\n\n" +
				"📋 สิ่งที่ควรเตรียม:\n" +
				"• บัตรประชาชน\n" +
				"• บัตรประกันสุขภาพ\n" +
				"• ยาที่กำลังทาน\n\n" +
				"💡 ต้องการนัดหมายใหม่ไหมคะ?\n" +
				"พิมพ์: 'นัดหมาย' เพื่อจองเวลา",
		},
		models.TypeDay14: {
			OffsetDays: 14,
			Label:      "14-day follow-up",
			Template: "📅 สัปดาห์ที่ 2 หลังจำหน่าย\n\n" +
				"🎯 เป้าหมายในช่วงนี้:\n" +
				"• แผลควรหายดีแล้ว 80-90%\n" +
				"• สามารถเคลื่อนไหวได้ปกติ\n" +
				"• ลดการใช้ยาแก้ปวด\n\n" +
				"❓ ความรู้สึกเป็นอย่างไรบ้างคะ?\n\n" +
				"📝 พิมพ์: 'รายงานอาการ' เพื่ออัปเดต\n" +
				"📚 พิมพ์: 'ความรู้' เพื่อดูคำแนะนำ",
		},
		models.TypeDay30: {
			OffsetDays: 30,
			Label:      "30-day follow-up",
			Template: "🎉 ครบ 1 เดือนแล้วค่ะ!\n\n" +
				"👏 ยินดีด้วยที่ผ่านระยะพักฟื้นมาได้\n\n" +
				"📊 ขอติดตามผลหน่อยนะคะ:\n" +
				"• แผลหายสนิทแล้วหรือยัง?\n" +
				"• กลับมาใช้ชีวิตได้ปกติไหม?\n" +
				"• มีอาการผิดปกติหรือไม่?\n\n" +
				"💬 กรุณาบอกเราหน่อยนะคะ\n\n" +
				"🙏 ขอบคุณที่ให้เราดูแลค่ะ",
		},
	})
}

// Load reads a catalog from a YAML file keyed by reminder type. The file
// replaces the default set entirely.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}
	var raw map[models.ReminderType]Entry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("catalog file %s defines no reminders", path)
	}
	for rt, e := range raw {
		if rt == "" {
			return nil, fmt.Errorf("catalog file %s contains an unnamed reminder type", path)
		}
		if e.OffsetDays < 0 {
			return nil, fmt.Errorf("reminder %s: offset_days must not be negative", rt)
		}
		if e.Label == "" {
			return nil, fmt.Errorf("reminder %s: label is required", rt)
		}
	}
	return build(raw), nil
}

func build(entries map[models.ReminderType]Entry) *Catalog {
	order := make([]models.ReminderType, 0, len(entries))
	for rt := range entries {
		order = append(order, rt)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := entries[order[i]], entries[order[j]]
		if a.OffsetDays != b.OffsetDays {
			return a.OffsetDays < b.OffsetDays
		}
		return order[i] < order[j]
	})
	return &Catalog{entries: entries, order: order}
}

// Types lists the reminder types ordered by day offset, earliest first.
func (c *Catalog) Types() []models.ReminderType {
	out := make([]models.ReminderType, len(c.order))
	copy(out, c.order)
	return out
}

func (c *Catalog) Entry(rt models.ReminderType) (Entry, bool) {
	e, ok := c.entries[rt]
	return e, ok
}

// Message returns the template for the type, or the generic fallback when the
// type is unknown or has an empty template.
func (c *Catalog) Message(rt models.ReminderType) string {
	if e, ok := c.entries[rt]; ok && e.Template != "" {
		return e.Template
	}
	return FallbackMessage
}

// Label returns the display label for the type, falling back to the type name.
func (c *Catalog) Label(rt models.ReminderType) string {
	if e, ok := c.entries[rt]; ok && e.Label != "" {
		return e.Label
	}
	return string(rt)
}

func (c *Catalog) Len() int {
	return len(c.entries)
}
