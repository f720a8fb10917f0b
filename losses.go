package main

// MSELoss returns the scalar mean of (yHat - y)^2 over all elements.
func MSELoss(yHat, y *Node) (*Node, error) {
	diff, err := Sub(yHat, y)
	if err != nil {
		return nil, err
	}
	sq, err := Square(diff)
	if err != nil {
		return nil, err
	}
	return Mean(sq)
}

// SoftmaxLastAxis applies softmax over the last axis of yHat
// (batch, time, classes) and keeps its shape. Leading axes are flattened
// into rows for the row-wise kernel and restored afterwards.
func SoftmaxLastAxis(yHat *Node) (*Node, error) {
	rows, err := Flatten(yHat, true)
	if err != nil {
		return nil, err
	}
	sf, err := RowSoftmax(rows)
	if err != nil {
		return nil, err
	}
	return ReshapeLike(sf, yHat)
}

// CrossEntropy returns the total (summed) sparse softmax cross-entropy of
// logits yHat (batch, time, classes) against integer labels (batch, time).
// Every label must lie in [0, classes).
func CrossEntropy(yHat, labels *Node) (*Node, error) {
	logits, err := Flatten(yHat, true)
	if err != nil {
		return nil, err
	}
	flatLabels, err := Flatten(labels, false)
	if err != nil {
		return nil, err
	}
	ce, err := SparseSoftmaxCrossEntropy(logits, flatLabels)
	if err != nil {
		return nil, err
	}
	return Sum(ce)
}
