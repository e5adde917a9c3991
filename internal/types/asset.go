package types

// Provenance names the tier that satisfied a resolve.
type Provenance string

const (
	EphemeralHit Provenance = "ephemeral-hit"
	DurableHit   Provenance = "durable-hit"
	Computed     Provenance = "computed"
)

// AssetRecord is the resolved output for one TransformRequest.
type AssetRecord struct {
	Key      string
	FileName string
	// Options are the normalized transform options the asset was derived with.
	Options    TransformOptions
	Data       []byte
	Provenance Provenance
	// Location is where the durable store saved a computed asset.
	Location string
	// PersistErr is set when a computed asset could not be written to the
	// durable store; later misses for the key recompute until a write succeeds.
	PersistErr error
}

func (a AssetRecord) Size() int {
	return len(a.Data)
}

func (a AssetRecord) ContentType() string {
	return a.Options.Format.ContentType()
}

// SourceFile is one uploaded file of a batch.
type SourceFile struct {
	Name string
	Data []byte
}

// BatchItem is one index-aligned entry of a BatchResult. Exactly one of
// Record and Err is meaningful.
type BatchItem struct {
	Index  int
	Record AssetRecord
	Err    error
}

func (b BatchItem) OK() bool {
	return b.Err == nil
}

// BatchResult preserves the order of the originating file list.
type BatchResult []BatchItem

// Succeeded returns the successful records in request order.
func (r BatchResult) Succeeded() []AssetRecord {
	out := make([]AssetRecord, 0, len(r))
	for _, item := range r {
		if item.OK() {
			out = append(out, item.Record)
		}
	}
	return out
}

func (r BatchResult) Failed() int {
	n := 0
	for _, item := range r {
		if !item.OK() {
			n++
		}
	}
	return n
}
