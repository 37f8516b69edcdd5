package relay

// Draft is the comment accumulated for one ticket within an aggregation pass.
type Draft struct {
	Key  string
	Body string
	// ActivityID is the first contributing activity, used for attribution.
	ActivityID string
	// ActivityIDs lists every contributing activity in encounter order.
	ActivityIDs []string
}

// Drafts maps ticket keys to drafts and remembers the order keys were first seen.
type Drafts struct {
	order   []string
	byKey   map[string]*Draft
	Skipped []string
}

// NewDrafts returns an empty mapping.
func NewDrafts() *Drafts {
	return &Drafts{byKey: make(map[string]*Draft)}
}

// Add merges body into the draft for key, creating it on first sight.
// Merged bodies are separated by a blank line.
func (d *Drafts) Add(key, activityID, body string) {
	if existing, ok := d.byKey[key]; ok {
		existing.Body += draftSeparator + body
		existing.ActivityIDs = append(existing.ActivityIDs, activityID)
		return
	}
	d.byKey[key] = &Draft{
		Key:         key,
		Body:        body,
		ActivityID:  activityID,
		ActivityIDs: []string{activityID},
	}
	d.order = append(d.order, key)
}

// Get returns the draft for key.
func (d *Drafts) Get(key string) (*Draft, bool) {
	draft, ok := d.byKey[key]
	return draft, ok
}

// Keys returns ticket keys in first-encounter order.
func (d *Drafts) Keys() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// Each visits drafts in first-encounter order.
func (d *Drafts) Each(fn func(*Draft)) {
	for _, key := range d.order {
		fn(d.byKey[key])
	}
}

// Len returns the number of distinct ticket keys.
func (d *Drafts) Len() int {
	return len(d.order)
}
