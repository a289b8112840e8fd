package training

import (
	"fmt"
	"math"

	"github.com/satlab/multitask/tensor"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns a single-element tensor; Backward returns the gradient of
// that value with respect to predicted.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
}

func checkSameShape(predicted, target *tensor.Tensor) error {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Float32 {
		return fmt.Errorf("predicted and target tensors must be Float32")
	}
	if len(predicted.Shape) != len(target.Shape) {
		return fmt.Errorf("predicted and target tensors must have the same shape: %v vs %v", predicted.Shape, target.Shape)
	}
	for i, dim := range predicted.Shape {
		if dim != target.Shape[i] {
			return fmt.Errorf("predicted and target tensors must have the same shape: %v vs %v", predicted.Shape, target.Shape)
		}
	}
	return nil
}

func scalar(v float64, device tensor.DeviceType) (*tensor.Tensor, error) {
	return tensor.NewTensor([]int{1}, tensor.Float32, device, []float32{float32(v)})
}

// BCEWithLogitsLoss is binary cross-entropy on raw logits, averaged over
// every element:
//
//	l = max(x, 0) - x*y + log(1 + exp(-|x|))
type BCEWithLogitsLoss struct{}

func NewBCEWithLogitsLoss() *BCEWithLogitsLoss {
	return &BCEWithLogitsLoss{}
}

// Forward computes the mean loss
func (b *BCEWithLogitsLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	x := predicted.Data.([]float32)
	y := target.Data.([]float32)

	// accumulate in float64; masks have many elements
	var sum float64
	for i := range x {
		xi, yi := float64(x[i]), float64(y[i])
		sum += math.Max(xi, 0) - xi*yi + math.Log1p(math.Exp(-math.Abs(xi)))
	}
	return scalar(sum/float64(len(x)), predicted.Device)
}

// Backward computes (sigmoid(x) - y) / N
func (b *BCEWithLogitsLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	sig, err := tensor.Sigmoid(predicted)
	if err != nil {
		return nil, fmt.Errorf("sigmoid failed: %v", err)
	}
	diff, err := tensor.Sub(sig, target)
	if err != nil {
		return nil, fmt.Errorf("gradient subtraction failed: %v", err)
	}
	return tensor.Scale(diff, float32(1.0/float64(predicted.NumElems)))
}

// L1Loss is the mean absolute error
type L1Loss struct{}

func NewL1Loss() *L1Loss {
	return &L1Loss{}
}

// Forward computes the MAE loss: L = (1/N) * sum(|y_pred - y_true|)
func (l *L1Loss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	p := predicted.Data.([]float32)
	t := target.Data.([]float32)
	var sum float64
	for i := range p {
		sum += math.Abs(float64(p[i]) - float64(t[i]))
	}
	return scalar(sum/float64(len(p)), predicted.Device)
}

// Backward computes sign(y_pred - y_true) / N, with sign(0) = 0
func (l *L1Loss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkSameShape(predicted, target); err != nil {
		return nil, err
	}
	p := predicted.Data.([]float32)
	t := target.Data.([]float32)
	scale := float32(1.0 / float64(len(p)))
	grad := make([]float32, len(p))
	for i := range p {
		switch {
		case p[i] > t[i]:
			grad[i] = scale
		case p[i] < t[i]:
			grad[i] = -scale
		}
	}
	return tensor.NewTensor(predicted.Shape, tensor.Float32, predicted.Device, grad)
}

// CrossEntropyLoss implements Cross Entropy loss function for classification
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new Cross Entropy loss function
func NewCrossEntropyLoss() *CrossEntropyLoss {
	return &CrossEntropyLoss{}
}

func (ce *CrossEntropyLoss) check(predicted, target *tensor.Tensor) error {
	if predicted.DType != tensor.Float32 || target.DType != tensor.Int32 {
		return fmt.Errorf("predicted must be Float32 and target must be Int32")
	}
	if len(predicted.Shape) != 2 {
		return fmt.Errorf("predicted must be 2D tensor [batch_size, num_classes], got shape %v", predicted.Shape)
	}
	if len(target.Shape) != 1 {
		return fmt.Errorf("target must be 1D tensor [batch_size], got shape %v", target.Shape)
	}
	if target.Shape[0] != predicted.Shape[0] {
		return fmt.Errorf("batch size mismatch: predicted %d, target %d", predicted.Shape[0], target.Shape[0])
	}
	numClasses := predicted.Shape[1]
	for _, c := range target.Data.([]int32) {
		if c < 0 || int(c) >= numClasses {
			return &LabelRangeError{Label: c, NumClasses: numClasses}
		}
	}
	return nil
}

// LabelRangeError reports a class label outside [0, NumClasses).
type LabelRangeError struct {
	Label      int32
	NumClasses int
}

func (e *LabelRangeError) Error() string {
	return fmt.Sprintf("target class %d out of range [0, %d)", e.Label, e.NumClasses)
}

// Forward computes the mean negative log-likelihood of log_softmax(predicted)
// predicted: [batch_size, num_classes] logits
// target: [batch_size] class indices
func (ce *CrossEntropyLoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ce.check(predicted, target); err != nil {
		return nil, err
	}
	batchSize, numClasses := predicted.Shape[0], predicted.Shape[1]
	data := predicted.Data.([]float32)
	labels := target.Data.([]int32)

	var total float64
	for i := 0; i < batchSize; i++ {
		row := data[i*numClasses : (i+1)*numClasses]
		total -= logSoftmaxAt(row, int(labels[i]))
	}
	return scalar(total/float64(batchSize), predicted.Device)
}

// Backward computes (softmax(predicted) - onehot(target)) / batch_size
func (ce *CrossEntropyLoss) Backward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := ce.check(predicted, target); err != nil {
		return nil, err
	}
	batchSize, numClasses := predicted.Shape[0], predicted.Shape[1]

	grad, err := Softmax(predicted)
	if err != nil {
		return nil, fmt.Errorf("softmax computation failed: %v", err)
	}
	gradData := grad.Data.([]float32)
	labels := target.Data.([]int32)
	scale := float32(1.0 / float64(batchSize))
	for i := 0; i < batchSize; i++ {
		gradData[i*numClasses+int(labels[i])] -= 1.0
	}
	for i := range gradData {
		gradData[i] *= scale
	}
	return grad, nil
}

// logSoftmaxAt returns log_softmax(row)[k] computed with the max shift
func logSoftmaxAt(row []float32, k int) float64 {
	maxVal := float64(row[0])
	for _, v := range row[1:] {
		if float64(v) > maxVal {
			maxVal = float64(v)
		}
	}
	var sum float64
	for _, v := range row {
		sum += math.Exp(float64(v) - maxVal)
	}
	return float64(row[k]) - maxVal - math.Log(sum)
}

// Softmax applies softmax row by row to [batch_size, num_classes] logits
func Softmax(logits *tensor.Tensor) (*tensor.Tensor, error) {
	if logits.DType != tensor.Float32 || len(logits.Shape) != 2 {
		return nil, fmt.Errorf("softmax expects 2D Float32 logits, got %s %v", logits.DType, logits.Shape)
	}

	batchSize := logits.Shape[0]
	numClasses := logits.Shape[1]
	data := logits.Data.([]float32)
	result := make([]float32, len(data))

	for i := 0; i < batchSize; i++ {
		offset := i * numClasses

		// Find max for numerical stability
		maxVal := data[offset]
		for j := 1; j < numClasses; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < numClasses; j++ {
			exp := float32(math.Exp(float64(data[offset+j] - maxVal)))
			result[offset+j] = exp
			sum += exp
		}

		for j := 0; j < numClasses; j++ {
			result[offset+j] /= sum
		}
	}

	return tensor.NewTensor(logits.Shape, logits.DType, logits.Device, result)
}
