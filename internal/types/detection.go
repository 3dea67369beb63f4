package types

// BBox is a bounding box in normalized coordinates [0.0, 1.0]
type BBox struct {
	YMin float64 `json:"ymin" msgpack:"ymin"`
	XMin float64 `json:"xmin" msgpack:"xmin"`
	YMax float64 `json:"ymax" msgpack:"ymax"`
	XMax float64 `json:"xmax" msgpack:"xmax"`
}

// Detection is one raw detector result
type Detection struct {
	ClassID int     `json:"class_id" msgpack:"class_id"`
	Score   float64 `json:"score" msgpack:"score"`
	BBox    BBox    `json:"bbox" msgpack:"bbox"`
}

// FilterByScore keeps detections whose score is at least threshold, preserving order
func FilterByScore(detections []Detection, threshold float64) []Detection {
	out := make([]Detection, 0, len(detections))
	for _, d := range detections {
		if d.Score >= threshold {
			out = append(out, d)
		}
	}
	return out
}
