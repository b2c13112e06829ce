package models

import "time"

// JobRecord is the audit record written to Firestore once per successful
// transform that ran for an identified user.
type JobRecord struct {
	UserID         string    `firestore:"userId"`
	JobType        string    `firestore:"jobType"`
	Status         string    `firestore:"status"`
	InputFileNames []string  `firestore:"inputFileNames"`
	InputHashes    []string  `firestore:"inputHashes,omitempty"`
	OutputPath     string    `firestore:"outputPath"`
	PageCount      int       `firestore:"pageCount,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt,omitempty"`
}

// JobRecordStatusCompleted is the only status a record is written with.
const JobRecordStatusCompleted = "completed"
