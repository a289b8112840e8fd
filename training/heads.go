package training

import (
	"math"

	"github.com/satlab/multitask/errors"
	"github.com/satlab/multitask/tensor"
	"github.com/satlab/multitask/vision/dataloader"
)

// headLosses pairs each output head with its loss
type headLosses struct {
	seg *BCEWithLogitsLoss
	reg *L1Loss
	cls *CrossEntropyLoss
}

func newHeadLosses() headLosses {
	return headLosses{seg: NewBCEWithLogitsLoss(), reg: NewL1Loss(), cls: NewCrossEntropyLoss()}
}

// batchResult is what one batch contributes to the running totals
type batchResult struct {
	losses   TaskLosses
	combined float64
	accuracy float64
	ious     []float64
	preds    []int32
	samples  int
}

// score computes losses, IoUs and predictions of one forward pass. It also
// returns the masks reshaped to the segmentation output.
func (h headLosses) score(weights LossWeights, out *Outputs, batch *dataloader.Batch) (*batchResult, *tensor.Tensor, error) {
	masks, err := tensor.Reshape(batch.Masks, out.Segmentation.Shape)
	if err != nil {
		return nil, nil, errors.WrapData(err, "segmentation mask does not match model output")
	}

	losses, err := h.forward(out, masks, batch)
	if err != nil {
		return nil, nil, err
	}
	combined := weights.Combine(losses)
	if math.IsNaN(combined) || math.IsInf(combined, 0) {
		return nil, nil, errors.Numeric("non-finite loss %v (segmentation %v, regression %v, classification %v)",
			combined, losses.Segmentation, losses.Regression, losses.Classification)
	}

	ious, err := BatchIoU(out.Segmentation, batch.Masks)
	if err != nil {
		return nil, nil, errors.WrapData(err, "IoU")
	}
	preds, err := Predictions(out.Classification)
	if err != nil {
		return nil, nil, errors.WrapData(err, "classification output")
	}

	return &batchResult{
		losses:   losses,
		combined: combined,
		accuracy: Accuracy(preds, batch.Labels.Data.([]int32)),
		ious:     ious,
		preds:    preds,
		samples:  batch.Size(),
	}, masks, nil
}

func (h headLosses) forward(out *Outputs, masks *tensor.Tensor, batch *dataloader.Batch) (TaskLosses, error) {
	var losses TaskLosses

	seg, err := h.seg.Forward(out.Segmentation, masks)
	if err != nil {
		return losses, errors.WrapData(err, "segmentation loss")
	}
	reg, err := h.reg.Forward(out.Regression, batch.Targets)
	if err != nil {
		return losses, errors.WrapData(err, "regression loss")
	}
	cls, err := h.cls.Forward(out.Classification, batch.Labels)
	if err != nil {
		return losses, errors.WrapData(err, "classification loss")
	}

	if losses.Segmentation, err = seg.Item(); err != nil {
		return losses, err
	}
	if losses.Regression, err = reg.Item(); err != nil {
		return losses, err
	}
	if losses.Classification, err = cls.Item(); err != nil {
		return losses, err
	}
	return losses, nil
}

// backward seeds each head with the gradient of its weighted loss and
// propagates all three through the shared graph at once.
func (h headLosses) backward(weights LossWeights, out *Outputs, masks *tensor.Tensor, batch *dataloader.Batch) error {
	gSeg, err := h.seg.Backward(out.Segmentation, masks)
	if err != nil {
		return errors.WrapData(err, "segmentation gradient")
	}
	gReg, err := h.reg.Backward(out.Regression, batch.Targets)
	if err != nil {
		return errors.WrapData(err, "regression gradient")
	}
	gCls, err := h.cls.Backward(out.Classification, batch.Labels)
	if err != nil {
		return errors.WrapData(err, "classification gradient")
	}

	roots := []*tensor.Tensor{out.Segmentation, out.Regression, out.Classification}
	grads := make([]*tensor.Tensor, 3)
	for i, g := range []struct {
		grad   *tensor.Tensor
		weight float64
	}{{gSeg, weights.Segmentation}, {gReg, weights.Regression}, {gCls, weights.Classification}} {
		if grads[i], err = tensor.Scale(g.grad, float32(g.weight)); err != nil {
			return errors.WrapData(err, "weighted gradient")
		}
	}

	if err := tensor.Backward(roots, grads); err != nil {
		return errors.WrapData(err, "backward pass failed")
	}
	return nil
}
