package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidatePatentNumber(t *testing.T) {
	for _, ok := range []string{"", "9876543", "US-9876543", "RE49999", "1234567890123456"} {
		assert.NoError(t, ValidatePatentNumber(ok), ok)
	}
	for _, bad := range []string{
		`1"; filename*=UTF-8''evil.exe`,
		`9"x`,
		"12345678901234567",
		"US 9876543",
		"98765\r\n43",
		"US/9876543",
	} {
		assert.ErrorIs(t, ValidatePatentNumber(bad), ErrInvalidInput, bad)
	}
}

func TestValidateDocumentType(t *testing.T) {
	assert.NoError(t, ValidateDocumentType(""))
	assert.NoError(t, ValidateDocumentType("Final Written Decision"))
	assert.ErrorIs(t, ValidateDocumentType(`decision"`), ErrInvalidInput)
	assert.ErrorIs(t, ValidateDocumentType("decision\nX-Evil: 1"), ErrInvalidInput)
}

func TestDownloadTargetHeadersPTAB(t *testing.T) {
	target := DownloadTarget{
		Source:       SourcePTAB,
		ResourceID:   "IPR2024-00001",
		DocumentID:   "paper-1",
		PatentNumber: "US-9876543",
	}
	target.Filename = FallbackFilename(target.Source, target.ResourceID, target.DocumentID, "", target.PatentNumber, "")

	h := target.Headers()
	assert.Equal(t, `attachment; filename="IPR2024-00001_PAT-US-9876543_paper-1.pdf"`, h["Content-Disposition"])
	assert.Equal(t, "IPR2024-00001", h["X-Proceeding-Number"])
	assert.NotContains(t, h, "X-Petition-ID")
}
