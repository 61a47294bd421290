package history

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/intake/internal/domain/anamnesis"
)

func TestWriteXLSX(t *testing.T) {
	created := time.Date(2024, 3, 10, 14, 5, 0, 0, time.UTC)
	entries := []Entry{
		{
			PatientName: "Maria Silva",
			PatientCode: "P-001",
			Anamnesis: &anamnesis.Anamnesis{
				ID:          uuid.New(),
				ExamType:    anamnesis.ExamResonance,
				ExamSubtype: "Coluna Lombar",
				Medications: []anamnesis.Medication{{Name: "Atenolol", Dosage: "50mg"}, {Name: "Omeprazol"}},
				Allergies:   []anamnesis.Allergy{{Type: "Iodo"}},
				Signatures: anamnesis.Signatures{
					Patient: anamnesis.Signature{Method: anamnesis.MethodDrawing, Drawing: "data:x"},
				},
				CreatedBy: "tech-1",
				CreatedAt: created,
			},
		},
		{PatientName: MissingPatient, Anamnesis: &anamnesis.Anamnesis{ExamType: anamnesis.ExamOther, CreatedAt: created}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, entries, time.UTC))

	file, err := excelize.OpenReader(bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	rows := file.GetRows(sheetName)
	require.Len(t, rows, 3)

	assert.Equal(t, exportHeaders, rows[0][:len(exportHeaders)])
	assert.Equal(t, "2024-03-10 14:05", rows[1][0])
	assert.Equal(t, "Maria Silva", rows[1][1])
	assert.Equal(t, "resonance", rows[1][3])
	assert.Equal(t, "Atenolol 50mg; Omeprazol", rows[1][5])
	assert.Equal(t, "Iodo", rows[1][6])
	assert.Equal(t, "yes", rows[1][8])
	assert.Equal(t, "no", rows[1][9])
	assert.Equal(t, MissingPatient, rows[2][1])
}

func TestHandler_Export(t *testing.T) {
	f := newFixture(t)
	maria := f.addPatient(t, "Maria Silva")
	f.addRecord(t, maria.ID, anamnesis.ExamTomography)
	h := NewHandler(f.view, time.UTC)
	h.now = func() time.Time { return time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC) }

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/history/export", nil), rec)
	require.NoError(t, h.Export(c))

	assert.Equal(t, mimeXLSX, rec.Header().Get(echo.HeaderContentType))
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "anamneses-20240310.xlsx")

	file, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	rows := file.GetRows(sheetName)
	require.Len(t, rows, 2)
	assert.Equal(t, "Maria Silva", rows[1][1])
}
