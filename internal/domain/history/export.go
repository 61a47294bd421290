package history

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/360EntSecGroup-Skylar/excelize"

	"github.com/ehr/intake/internal/domain/anamnesis"
)

const sheetName = "Anamneses"

var exportHeaders = []string{
	"Created", "Patient", "Patient ID", "Exam", "Subtype",
	"Medications", "Allergies", "Contrast allergy", "Patient signed", "Professional signed", "Created by",
}

// WriteXLSX writes entries as one spreadsheet row each, in the given order.
func WriteXLSX(w io.Writer, entries []Entry, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	file := excelize.NewFile()
	file.NewSheet(sheetName)
	file.DeleteSheet("Sheet1")
	for i, h := range exportHeaders {
		file.SetCellValue(sheetName, cell(i, 1), h)
	}
	for i, e := range entries {
		appendRow(file, i+2, e, loc)
	}
	if err := file.Write(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}

func appendRow(file *excelize.File, row int, e Entry, loc *time.Location) {
	a := e.Anamnesis
	values := []interface{}{
		a.CreatedAt.In(loc).Format("2006-01-02 15:04"),
		e.PatientName,
		e.PatientCode,
		string(a.ExamType),
		a.ExamSubtype,
		medicationList(a.Medications),
		allergyList(a.Allergies),
		yesNo(a.ContrastAllergy),
		yesNo(a.Signatures.Patient.IsSigned()),
		yesNo(a.Signatures.Professional.IsSigned()),
		a.CreatedBy,
	}
	for col, v := range values {
		file.SetCellValue(sheetName, cell(col, row), v)
	}
}

// cell returns the A1 reference of a zero-based column and one-based row.
func cell(col, row int) string {
	return fmt.Sprintf("%s%d", excelize.ToAlphaString(col), row)
}

func medicationList(ms []anamnesis.Medication) string {
	parts := make([]string, 0, len(ms))
	for _, m := range ms {
		parts = append(parts, strings.TrimSpace(m.Name+" "+m.Dosage))
	}
	return strings.Join(parts, "; ")
}

func allergyList(as []anamnesis.Allergy) string {
	parts := make([]string, 0, len(as))
	for _, a := range as {
		parts = append(parts, a.Type)
	}
	return strings.Join(parts, "; ")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
