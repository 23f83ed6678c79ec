package ratestore

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
)

// dateValue scans a nullable calendar date stored as TEXT (SQLite) or DATE (PostgreSQL)
type dateValue struct {
	Date  civil.Date
	Valid bool
}

func (d *dateValue) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = dateValue{}
		return nil
	case time.Time:
		*d = dateValue{Date: civil.DateOf(v), Valid: true}
		return nil
	case string:
		return d.parse(v)
	case []byte:
		return d.parse(string(v))
	default:
		return fmt.Errorf("cannot scan %T into a date", src)
	}
}

func (d *dateValue) parse(s string) error {
	if len(s) > 10 {
		// drivers may append a time part
		s = s[:10]
	}
	date, err := civil.ParseDate(s)
	if err != nil {
		return err
	}
	*d = dateValue{Date: date, Valid: true}
	return nil
}
