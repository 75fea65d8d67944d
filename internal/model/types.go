package model

import "sort"

// ResultMap maps a category name to its confidence score.
type ResultMap map[string]float32

// Prediction is one (category, score) pair.
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float32 `json:"confidence"`
}

// Sorted returns the entries by descending score, ties broken by name.
func (m ResultMap) Sorted() []Prediction {
	out := make([]Prediction, 0, len(m))
	for class, score := range m {
		out = append(out, Prediction{Class: class, Confidence: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Class < out[j].Class
	})
	return out
}

// Top returns the highest-scoring entry. ok is false for an empty map.
func (m ResultMap) Top() (Prediction, bool) {
	sorted := m.Sorted()
	if len(sorted) == 0 {
		return Prediction{}, false
	}
	return sorted[0], true
}

type PredictionResponse struct {
	RequestID   string             `json:"request_id,omitempty"`
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

// NewPredictionResponse summarizes a ResultMap for the HTTP layer.
func NewPredictionResponse(requestID string, m ResultMap) PredictionResponse {
	top, _ := m.Top()
	return PredictionResponse{
		RequestID:   requestID,
		Class:       top.Class,
		Confidence:  top.Confidence,
		Predictions: m,
	}
}

type CategoriesResponse struct {
	Source string `json:"source"`
	Count  int    `json:"count"`
}
