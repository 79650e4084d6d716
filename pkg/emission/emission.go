// Package emission defines the gauge emission model shared by the mapper and the sinks.
package emission

import (
	"sort"
	"strings"
)

// Label is one key/value pair of a label set.
type Label struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Labels is an ordered label set. Order is the order the mapper added the pairs;
// identity (see Key) ignores order.
type Labels []Label

// L builds a label set from alternating key/value arguments.
// A trailing key without a value is ignored.
func L(kv ...string) Labels {
	labels := make(Labels, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		labels = append(labels, Label{Key: kv[i], Value: kv[i+1]})
	}
	return labels
}

// Keys returns label keys in insertion order.
func (l Labels) Keys() []string {
	keys := make([]string, len(l))
	for i, lbl := range l {
		keys[i] = lbl.Key
	}
	return keys
}

// Map returns the label set as a map.
func (l Labels) Map() map[string]string {
	m := make(map[string]string, len(l))
	for _, lbl := range l {
		m[lbl.Key] = lbl.Value
	}
	return m
}

// Key returns the identity of the label set. Two sets holding the same pairs in
// a different order share one key.
func (l Labels) Key() string {
	sorted := make(Labels, len(l))
	copy(sorted, l)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	for i, lbl := range sorted {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(lbl.Key)
		b.WriteString(`="`)
		b.WriteString(strings.ReplaceAll(lbl.Value, `"`, `\"`))
		b.WriteByte('"')
	}
	return b.String()
}

// Emission is one gauge write: name, value and label set.
type Emission struct {
	Name   string  `json:"name"`
	Value  float64 `json:"value"`
	Labels Labels  `json:"labels"`
}

// SeriesKey identifies the series an emission writes to.
func (e Emission) SeriesKey() string {
	return SeriesKey(e.Name, e.Labels)
}

// SeriesKey builds the series identity for a metric name and label set.
func SeriesKey(name string, labels Labels) string {
	return name + "{" + labels.Key() + "}"
}
