package models

import "github.com/google/uuid"

// assignID fills a zero primary key before insert so both Postgres and SQLite
// receive an application generated identifier.
func assignID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
