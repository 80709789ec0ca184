package analysis

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// turkeyTime is UTC+3; Turkey has not observed DST since 2016.
var turkeyTime = time.FixedZone("TRT", 3*60*60)

// RenderReport formats a plain-text report of the analysis in Turkish, in
// the layout users download from the UI.
func RenderReport(a *Analysis, sourceName string) string {
	var b strings.Builder
	b.WriteString("NER (VARLIK TANIMA) RAPORU\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Kaynak Türü: %s\n", strings.ToUpper(string(a.Origin)))
	fmt.Fprintf(&b, "Kaynak Dosya: %s\n", sourceName)
	fmt.Fprintf(&b, "Analiz Edilen Metin Uzunluğu: %d karakter\n", utf8.RuneCountInString(a.Text))
	fmt.Fprintf(&b, "Bulunan Varlık Sayısı: %d\n", len(a.Entities))
	if !a.Success && a.Error != "" {
		fmt.Fprintf(&b, "Hata: %s\n", a.Error)
	}

	b.WriteString("\nBULUNAN VARLIKLAR:\n")
	b.WriteString(strings.Repeat("-", 20))
	b.WriteString("\n")
	if len(a.Entities) == 0 {
		b.WriteString("Hiç varlık bulunamadı.\n")
	}
	for _, e := range a.Entities {
		fmt.Fprintf(&b, "- %s (%s)\n", e.Text, e.Type)
	}

	b.WriteString("\nANALİZ EDİLEN METİN:\n")
	b.WriteString(strings.Repeat("-", 20))
	b.WriteString("\n")
	b.WriteString(a.Text)
	b.WriteString("\n\n")

	created := a.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	fmt.Fprintf(&b, "Oluşturulma Tarihi: %s\n", created.In(turkeyTime).Format("2006-01-02 15:04:05"))
	return b.String()
}
