package tensor

import (
	"fmt"
)

// Backward computes gradients of t with respect to every leaf in its graph
// whose RequiresGrad flag is set at the time of the call. Gradients are
// accumulated into the leaves, so callers clear them with ZeroGrad between
// steps. t must hold exactly one Float32 element.
func (t *Tensor) Backward() (err error) {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a single-element output, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return fmt.Errorf("backward requires a Float32 output, got %s", t.DType)
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("backward pass panicked: %v", r)
		}
	}()

	order := topologicalOrder(t)

	needsGrad := make(map[*Tensor]bool, len(order))
	for _, n := range order {
		if n.creator == nil {
			needsGrad[n] = n.requiresGrad
			continue
		}
		for _, in := range n.creator.Inputs() {
			if needsGrad[in] {
				needsGrad[n] = true
				break
			}
		}
	}
	if !needsGrad[t] {
		return nil
	}

	seed, err := Ones(t.Shape, Float32, t.Device)
	if err != nil {
		return err
	}
	grads := map[*Tensor]*Tensor{t: seed}

	for i := len(order) - 1; i >= 0; i-- {
		n := order[i]
		g := grads[n]
		if g == nil || !needsGrad[n] {
			continue
		}
		delete(grads, n)

		if n.creator == nil {
			if err := n.accumulateGrad(g); err != nil {
				return err
			}
			continue
		}

		inGrads, err := n.creator.Backward(g)
		if err != nil {
			return err
		}
		inputs := n.creator.Inputs()
		if len(inGrads) != len(inputs) {
			return fmt.Errorf("operation %T returned %d gradients for %d inputs", n.creator, len(inGrads), len(inputs))
		}
		for j, in := range inputs {
			if inGrads[j] == nil || !needsGrad[in] {
				continue
			}
			if prev, ok := grads[in]; ok {
				sum, err := Add(prev, inGrads[j])
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				grads[in] = sum
			} else {
				grads[in] = inGrads[j]
			}
		}
	}

	return nil
}

// accumulateGrad adds g into the leaf's gradient buffer, allocating it on
// first use.
func (t *Tensor) accumulateGrad(g *Tensor) error {
	if !shapesEqual(g.Shape, t.Shape) {
		reduced, err := reduceGradientToShape(g, t.Shape)
		if err != nil {
			return err
		}
		g = reduced
	}

	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		clone.requiresGrad = false
		clone.Device = t.Device
		t.grad = clone
		return nil
	}

	dst := t.grad.Data.([]float32)
	for i, v := range g.Data.([]float32) {
		dst[i] += v
	}
	return nil
}

// topologicalOrder lists every tensor reachable from root with inputs before
// the tensors computed from them.
func topologicalOrder(root *Tensor) []*Tensor {
	var order []*Tensor
	visited := make(map[*Tensor]bool)

	var visit func(n *Tensor)
	visit = func(n *Tensor) {
		if visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(root)

	return order
}

// Reaches reports whether any of leaves appears in the autograd graph that
// produced root, including root itself.
func Reaches(root *Tensor, leaves []*Tensor) bool {
	want := make(map[*Tensor]bool, len(leaves))
	for _, l := range leaves {
		want[l] = true
	}
	for _, n := range topologicalOrder(root) {
		if want[n] {
			return true
		}
	}
	return false
}
