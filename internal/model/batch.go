package model

// BatchItem is the outcome of processing one upload of a batch.
// Exactly one of Artifact (when Err is nil) or Err is meaningful.
type BatchItem struct {
	Source   StagedUpload
	Artifact Artifact
	Err      error
}

// OK reports whether the item was processed successfully.
func (i BatchItem) OK() bool {
	return i.Err == nil
}

// BatchResult holds one item per input, in submission order.
type BatchResult struct {
	Items []BatchItem
}

// Artifacts returns the successfully produced artifacts in submission order.
func (r BatchResult) Artifacts() []Artifact {
	out := make([]Artifact, 0, len(r.Items))
	for _, it := range r.Items {
		if it.OK() {
			out = append(out, it.Artifact)
		}
	}

	return out
}

// Failed returns the items that could not be processed, in submission order.
func (r BatchResult) Failed() []BatchItem {
	var out []BatchItem
	for _, it := range r.Items {
		if !it.OK() {
			out = append(out, it)
		}
	}

	return out
}

// Err returns the first failure in submission order, or nil.
func (r BatchResult) Err() error {
	for _, it := range r.Items {
		if it.Err != nil {
			return it.Err
		}
	}

	return nil
}
