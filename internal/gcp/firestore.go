package gcp

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/Lllllllleong/pdftransform/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// FirestoreRecorder writes job records into a Firestore collection.
type FirestoreRecorder struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreRecorder returns a recorder adding documents to collection.
func NewFirestoreRecorder(client *firestore.Client, collection string) *FirestoreRecorder {
	return &FirestoreRecorder{client: client, collection: collection}
}

// WriteRecord adds rec as a new document.
func (r *FirestoreRecorder) WriteRecord(ctx context.Context, rec models.JobRecord) error {
	if _, _, err := r.client.Collection(r.collection).Add(ctx, rec); err != nil {
		return fmt.Errorf("failed to create job record: %w", err)
	}
	return nil
}
