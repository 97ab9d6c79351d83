package domain

// Batch is an ordered group of records delivered to a sink as one unit.
type Batch struct {
	// ID uniquely identifies the batch in logs and sink metadata.
	ID string

	// Records are the batched records in publish order.
	Records []Record

	// Bytes is the sum of record sizes.
	Bytes int

	// Attempt is the 1-based delivery attempt number.
	Attempt int
}

// Len returns the number of records.
func (b *Batch) Len() int {
	return len(b.Records)
}

// Add appends a record.
func (b *Batch) Add(r Record) {
	b.Records = append(b.Records, r)
	b.Bytes += r.Size()
}

// AckGroup is the share of a batch belonging to one acknowledger.
type AckGroup struct {
	Ack    Acknowledger
	Count  int
	Offset int64
}

// AckGroups groups the batch's records by acknowledger, keeping first-seen
// order and the highest offset per group. Records without one are ignored.
func (b *Batch) AckGroups() []AckGroup {
	var groups []AckGroup
	index := make(map[Acknowledger]int)
	for _, r := range b.Records {
		if r.ack == nil {
			continue
		}
		i, ok := index[r.ack]
		if !ok {
			i = len(groups)
			index[r.ack] = i
			groups = append(groups, AckGroup{Ack: r.ack})
		}
		groups[i].Count++
		if r.Offset > groups[i].Offset {
			groups[i].Offset = r.Offset
		}
	}
	return groups
}
