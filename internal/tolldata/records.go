package tolldata

import "strings"

// Field counts of each reduced record.
const (
	vehicleFields = 4
	plazaFields   = 3
	paymentFields = 2

	// minimum raw fields a TSV line needs for index 6 to exist
	plazaRawFields = 7
)

// Character ranges of the fixed-width payment file, end-exclusive.
const (
	paymentCodeStart = 58
	paymentCodeEnd   = 61
	vehicleCodeStart = 62
	vehicleCodeEnd   = 67
)

// VehicleRecord holds the fields kept from vehicle-data.csv.
type VehicleRecord struct {
	RowID         string
	Timestamp     string
	VehicleNumber string
	VehicleType   string
}

// Fields returns the record in output column order.
func (r VehicleRecord) Fields() []string {
	return []string{r.RowID, r.Timestamp, r.VehicleNumber, r.VehicleType}
}

// parseVehicle keeps fields 0..3. ok is false for lines with fewer than 4 fields.
func parseVehicle(fields []string) (VehicleRecord, bool) {
	if len(fields) < vehicleFields {
		return VehicleRecord{}, false
	}
	return VehicleRecord{
		RowID:         fields[0],
		Timestamp:     fields[1],
		VehicleNumber: fields[2],
		VehicleType:   fields[3],
	}, true
}

// PlazaRecord holds the fields kept from tollplaza-data.tsv.
type PlazaRecord struct {
	Axles     string
	PlazaID   string
	PlazaCode string
}

// Fields returns the record in output column order.
func (r PlazaRecord) Fields() []string {
	return []string{r.Axles, r.PlazaID, r.PlazaCode}
}

// parsePlaza keeps fields 4, 5 and 6. ok is false for lines with fewer than 7 fields.
func parsePlaza(fields []string) (PlazaRecord, bool) {
	if len(fields) < plazaRawFields {
		return PlazaRecord{}, false
	}
	return PlazaRecord{
		Axles:     fields[4],
		PlazaID:   fields[5],
		PlazaCode: fields[6],
	}, true
}

// PaymentRecord holds the fields sliced from payment-data.txt.
type PaymentRecord struct {
	PaymentCode string
	VehicleCode string
}

// Fields returns the record in output column order.
func (r PaymentRecord) Fields() []string {
	return []string{r.PaymentCode, r.VehicleCode}
}

// parsePayment slices [58,61) and [62,67) out of line by character, after
// stripping the line terminator. Lines too short for both ranges yield
// truncated or empty values and short is true.
func parsePayment(line string) (rec PaymentRecord, short bool) {
	runes := []rune(strings.TrimRight(line, "\r\n"))
	rec = PaymentRecord{
		PaymentCode: sliceRunes(runes, paymentCodeStart, paymentCodeEnd),
		VehicleCode: sliceRunes(runes, vehicleCodeStart, vehicleCodeEnd),
	}
	return rec, len(runes) < vehicleCodeEnd
}

// sliceRunes returns runes[start:end] clamped to the slice bounds.
func sliceRunes(runes []rune, start, end int) string {
	if start >= len(runes) {
		return ""
	}
	if end > len(runes) {
		end = len(runes)
	}
	return string(runes[start:end])
}
