package packet

import "time"

var BuildTransition = buildTransition

func SetNowFunc(f func() time.Time) (restore func()) {
	old := nowFunc
	nowFunc = f
	return func() { nowFunc = old }
}

func SetBarcodeFunc(f func(examYearID int64) string) (restore func()) {
	old := newBarcode
	newBarcode = f
	return func() { newBarcode = old }
}
