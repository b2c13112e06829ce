package models

// These structs define the JSON payloads accepted by the transform function,
// either as an HTTP body or as a request manifest dropped into the requests
// bucket.

// InputRef points at one input PDF in Cloud Storage.
type InputRef struct {
	Name   string `json:"name"`
	GCSUri string `json:"gcsUri"`
}

// TransformRequest is the input for the pdf-transform function.
type TransformRequest struct {
	UserID    string     `json:"userId,omitempty"`
	Operation string     `json:"operation"`
	Inputs    []InputRef `json:"inputs"`
	// Pages is a 1-based page spec such as "1-3,5" for split, remove and rotate.
	Pages string `json:"pages,omitempty"`
	// Order is the 0-based permutation for organize.
	Order    []int  `json:"order,omitempty"`
	Delta    int    `json:"delta,omitempty"`
	Password string `json:"password,omitempty"`
}

// TransformResponse is the output of the pdf-transform function.
type TransformResponse struct {
	Status       string `json:"status"`
	JobStatus    string `json:"jobStatus,omitempty"`
	Progress     int    `json:"progress"`
	PageCount    int    `json:"pageCount,omitempty"`
	ArtifactID   string `json:"artifactId,omitempty"`
	ArtifactURL  string `json:"artifactUrl,omitempty"`
	OutputGCSUri string `json:"outputGcsUri,omitempty"`
	Error        string `json:"error,omitempty"`
}
