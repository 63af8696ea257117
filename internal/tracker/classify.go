package tracker

import "strings"

// DefaultKeywords is the built-in Thai symptom keyword set that marks a reply
// as concerning: severe or growing pain, pus, smell, swelling, fever, wound
// breakdown, bleeding, no improvement.
var DefaultKeywords = []string{
	"ปวดมาก", "ปวดเพิ่มขึ้น", "หนอง", "มีกลิ่น",
	"บวมแดง", "มีไข้", "ตัวร้อน", "เจ็บมาก",
	"แผลแยก", "เลือดออก", "ไม่ดีขึ้น",
}

// Classify reports whether the reply contains any escalation keyword. The
// match is a case-insensitive substring check.
func (t *Tracker) Classify(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range t.keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func lowered(keywords []string) []string {
	out := make([]string, len(keywords))
	for i, kw := range keywords {
		out[i] = strings.ToLower(kw)
	}
	return out
}
