package training

import (
	"fmt"
	"math"

	"github.com/montanaflynn/stats"

	"github.com/satlab/multitask/checkpoints"
	"github.com/satlab/multitask/tensor"
)

// TaskLosses holds the mean loss of each head for one batch or phase.
type TaskLosses struct {
	Segmentation   float64
	Regression     float64
	Classification float64
}

// LossWeights scales each head's loss in the combined training signal.
type LossWeights struct {
	Segmentation   float64
	Regression     float64
	Classification float64
}

// Combine returns the weighted sum of the task losses.
func (w LossWeights) Combine(l TaskLosses) float64 {
	return w.Segmentation*l.Segmentation + w.Regression*l.Regression + w.Classification*l.Classification
}

// BinaryMask thresholds segmentation logits at zero.
func BinaryMask(logits []float32) []bool {
	mask := make([]bool, len(logits))
	for i, v := range logits {
		mask[i] = v >= 0
	}
	return mask
}

// IoU returns the intersection over union of two binary masks. ok is false
// when either mask has no foreground pixel.
func IoU(pred []bool, target []float32) (value float64, ok bool) {
	if len(pred) != len(target) {
		return 0, false
	}
	var inter, union, predCount, targetCount int
	for i, p := range pred {
		t := target[i] > 0.5
		if p {
			predCount++
		}
		if t {
			targetCount++
		}
		if p && t {
			inter++
		}
		if p || t {
			union++
		}
	}
	if predCount == 0 || targetCount == 0 {
		return 0, false
	}
	return float64(inter) / float64(union), true
}

// BatchIoU computes per-sample IoU values for [N,1,H,W] logits against
// [N,H,W] masks, leaving out samples where IoU is undefined.
func BatchIoU(logits, masks *tensor.Tensor) ([]float64, error) {
	if len(logits.Shape) != 4 || len(masks.Shape) != 3 {
		return nil, fmt.Errorf("expected [N,1,H,W] logits and [N,H,W] masks, got %v and %v", logits.Shape, masks.Shape)
	}
	n := logits.Shape[0]
	plane := logits.Shape[2] * logits.Shape[3]
	if masks.Shape[0] != n || masks.Shape[1]*masks.Shape[2] != plane {
		return nil, fmt.Errorf("mask shape %v does not match logits %v", masks.Shape, logits.Shape)
	}

	pred := logits.Data.([]float32)
	target := masks.Data.([]float32)
	ious := make([]float64, 0, n)
	for i := 0; i < n; i++ {
		if v, ok := IoU(BinaryMask(pred[i*plane:(i+1)*plane]), target[i*plane:(i+1)*plane]); ok {
			ious = append(ious, v)
		}
	}
	return ious, nil
}

func argmax(row []float32) int {
	best := 0
	for j := 1; j < len(row); j++ {
		if row[j] > row[best] {
			best = j
		}
	}
	return best
}

// Predictions returns the argmax class of each row of [N,K] logits. The
// argmax of log_softmax equals the argmax of the logits.
func Predictions(logits *tensor.Tensor) ([]int32, error) {
	if len(logits.Shape) != 2 || logits.DType != tensor.Float32 {
		return nil, fmt.Errorf("expected [N,K] Float32 logits, got %s %v", logits.DType, logits.Shape)
	}
	n, k := logits.Shape[0], logits.Shape[1]
	data := logits.Data.([]float32)
	out := make([]int32, n)
	for i := 0; i < n; i++ {
		out[i] = int32(argmax(data[i*k : (i+1)*k]))
	}
	return out, nil
}

// Accuracy is the exact-match rate of predicted against target labels.
func Accuracy(predicted, labels []int32) float64 {
	if len(labels) == 0 || len(predicted) != len(labels) {
		return 0
	}
	correct := 0
	for i, p := range predicted {
		if p == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels))
}

// EpochTotals accumulates per-batch results over one phase.
type EpochTotals struct {
	Losses   TaskLosses
	Combined float64
	Accuracy float64
	Batches  int
	Samples  int
	IoUs     []float64
}

// Add records one batch.
func (e *EpochTotals) Add(losses TaskLosses, combined, accuracy float64, samples int, ious []float64) {
	e.Losses.Segmentation += losses.Segmentation
	e.Losses.Regression += losses.Regression
	e.Losses.Classification += losses.Classification
	e.Combined += combined
	e.Accuracy += accuracy
	e.Batches++
	e.Samples += samples
	e.IoUs = append(e.IoUs, ious...)
}

// MeanLoss is the running mean combined loss.
func (e *EpochTotals) MeanLoss() float64 {
	if e.Batches == 0 {
		return 0
	}
	return e.Combined / float64(e.Batches)
}

// PhaseMetrics are the per-batch means of one phase.
type PhaseMetrics struct {
	Loss     float64
	Losses   TaskLosses
	IoU      float64
	Accuracy float64
	Batches  int
	Samples  int
	IoUCount int
}

// Summary averages the totals. IoU is NaN when no sample had an IoU.
func (e *EpochTotals) Summary() PhaseMetrics {
	m := PhaseMetrics{
		Loss:     math.NaN(),
		IoU:      math.NaN(),
		Accuracy: math.NaN(),
		Batches:  e.Batches,
		Samples:  e.Samples,
		IoUCount: len(e.IoUs),
	}
	if e.Batches > 0 {
		n := float64(e.Batches)
		m.Loss = e.Combined / n
		m.Losses = TaskLosses{
			Segmentation:   e.Losses.Segmentation / n,
			Regression:     e.Losses.Regression / n,
			Classification: e.Losses.Classification / n,
		}
		m.Accuracy = e.Accuracy / n
	}
	if mean, err := stats.Mean(e.IoUs); err == nil {
		m.IoU = mean
	}
	return m
}

// BestMetrics tracks the best validation value of each task.
type BestMetrics struct {
	IoU        float64
	Regression float64
	Accuracy   float64
}

func NewBestMetrics() *BestMetrics {
	return &BestMetrics{IoU: 0, Regression: math.Inf(1), Accuracy: 0}
}

// Update compares validation metrics against the best so far and returns the
// tasks that improved. Ties count as improvements. NaN never improves.
func (b *BestMetrics) Update(val PhaseMetrics) []checkpoints.Task {
	var improved []checkpoints.Task
	if !math.IsNaN(val.IoU) && val.IoU >= b.IoU {
		b.IoU = val.IoU
		improved = append(improved, checkpoints.Segmentation)
	}
	if !math.IsNaN(val.Losses.Regression) && val.Losses.Regression <= b.Regression {
		b.Regression = val.Losses.Regression
		improved = append(improved, checkpoints.Regression)
	}
	if !math.IsNaN(val.Accuracy) && val.Accuracy >= b.Accuracy {
		b.Accuracy = val.Accuracy
		improved = append(improved, checkpoints.Classification)
	}
	return improved
}

// ConfusionMatrix counts [true_class][predicted_class] pairs
type ConfusionMatrix struct {
	NumClasses   int
	Matrix       [][]int
	TotalSamples int
}

// NewConfusionMatrix creates a new confusion matrix
func NewConfusionMatrix(numClasses int) *ConfusionMatrix {
	matrix := make([][]int, numClasses)
	for i := range matrix {
		matrix[i] = make([]int, numClasses)
	}
	return &ConfusionMatrix{NumClasses: numClasses, Matrix: matrix}
}

// Update adds predicted/true label pairs. Out-of-range labels are an error.
func (cm *ConfusionMatrix) Update(predicted, labels []int32) error {
	if len(predicted) != len(labels) {
		return fmt.Errorf("labels length mismatch: expected %d, got %d", len(predicted), len(labels))
	}
	for i, p := range predicted {
		trueClass := int(labels[i])
		if trueClass < 0 || trueClass >= cm.NumClasses {
			return &LabelRangeError{Label: labels[i], NumClasses: cm.NumClasses}
		}
		if p < 0 || int(p) >= cm.NumClasses {
			return fmt.Errorf("predicted class %d out of range [0, %d)", p, cm.NumClasses)
		}
		cm.Matrix[trueClass][p]++
		cm.TotalSamples++
	}
	return nil
}

// Accuracy is the trace over the total
func (cm *ConfusionMatrix) Accuracy() float64 {
	if cm.TotalSamples == 0 {
		return 0
	}
	correct := 0
	for i := 0; i < cm.NumClasses; i++ {
		correct += cm.Matrix[i][i]
	}
	return float64(correct) / float64(cm.TotalSamples)
}

// Recall returns TP / (TP + FN) for one class, 0 when the class never occurs.
func (cm *ConfusionMatrix) Recall(class int) float64 {
	tp := cm.Matrix[class][class]
	total := 0
	for _, n := range cm.Matrix[class] {
		total += n
	}
	if total == 0 {
		return 0
	}
	return float64(tp) / float64(total)
}

// Precision returns TP / (TP + FP) for one class, 0 when never predicted.
func (cm *ConfusionMatrix) Precision(class int) float64 {
	tp := cm.Matrix[class][class]
	total := 0
	for i := 0; i < cm.NumClasses; i++ {
		total += cm.Matrix[i][class]
	}
	if total == 0 {
		return 0
	}
	return float64(tp) / float64(total)
}

// MacroF1 averages the per-class F1 scores
func (cm *ConfusionMatrix) MacroF1() float64 {
	if cm.NumClasses == 0 {
		return 0
	}
	var sum float64
	for c := 0; c < cm.NumClasses; c++ {
		p, r := cm.Precision(c), cm.Recall(c)
		if p+r > 0 {
			sum += 2 * p * r / (p + r)
		}
	}
	return sum / float64(cm.NumClasses)
}
