// Package detect defines the detection snapshot consumed by the control loop
// and the interface to the external inference collaborator.
package detect

// Box is a bounding box in normalized image coordinates, each value in [0,1].
// The field order matches the interpreter's output layout.
type Box struct {
	YMin float64
	XMin float64
	YMax float64
	XMax float64
}

// Detection is a single labelled object with its location and confidence.
type Detection struct {
	Label      string
	Box        Box
	Confidence float64
}

// Set is the ordered result of one inference cycle. The inference cycle rate
// is independent of (and typically slower than) the capture rate, so the same
// Set may be observed by several consecutive capture ticks.
type Set []Detection

// Labels returns the labels of all detections in order.
func (s Set) Labels() []string {
	out := make([]string, len(s))
	for i, d := range s {
		out[i] = d.Label
	}
	return out
}

// Source exposes the latest detection snapshot. The collaborator runs its own
// inference cycle; Latest never blocks and returns whatever the most recent
// cycle produced (last-value-wins, no staleness bound).
type Source interface {
	// Latest returns the most recent detection set. It may be called from
	// the control loop at frame rate.
	Latest() Set

	// Close signals the collaborator to stop its inference cycle and waits
	// for it to finish.
	Close() error
}

// Filter drops detections below the confidence threshold or with labels
// outside the valid-object list. Interpreter output routinely contains junk
// classes and sub-threshold hits; filtering here keeps the gate logic and the
// annotations to objects the model is actually trusted on. An empty valid
// list admits every label.
func Filter(s Set, minConfidence float64, valid []string) Set {
	allowed := make(map[string]struct{}, len(valid))
	for _, label := range valid {
		allowed[label] = struct{}{}
	}

	var out Set
	for _, d := range s {
		if d.Confidence <= minConfidence || d.Confidence > 1.0 {
			continue
		}
		if len(allowed) > 0 {
			if _, ok := allowed[d.Label]; !ok {
				continue
			}
		}
		out = append(out, d)
	}
	return out
}
