package errors

import (
	"fmt"
	"testing"
)

func BenchmarkCollectorAdd(b *testing.B) {
	cause := fmt.Errorf("unexpected end of template")
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		c := NewCollector()
		for j := 0; j < 16; j++ {
			c.Add(NewTemplateError("Card", cause))
		}
	}
}

func BenchmarkCollectorReport(b *testing.B) {
	c := NewCollector()
	for i := 0; i < 100; i++ {
		c.Add(NewRegistryError(ErrCodeInvalidDescriptor, "invalid front matter", nil).
			WithComponent(fmt.Sprintf("C%03d", 100-i)).WithLocation("c.html", i, 1))
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Report()
	}
}

func BenchmarkErrorString(b *testing.B) {
	err := NewParseError(ErrCodeUnexpectedChar, "unexpected character", 12, 4, '<').
		WithComponent("Card").WithLocation("card.html", 12, 4)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		_ = err.Error()
	}
}
