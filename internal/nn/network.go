// Package nn builds feed-forward networks from device-resident fully
// connected layers. Layers cache one forward pass for the matching backward
// pass; the network owns the activations flowing between layers so callers
// only manage the batch they feed in and the output they get back.
package nn

import (
	"fmt"

	"github.com/JordanHanotiaux/P3/internal/compute"
	"github.com/JordanHanotiaux/P3/internal/matrix"
)

// Network is an ordered stack of layers with matching widths.
type Network struct {
	layers []*Layer

	// Activations passed between layers during the latest forward pass.
	// They back the layers' caches, so they stay alive until the caches are
	// consumed or replaced.
	inflight []*matrix.Matrix
}

// NewNetwork stacks layers, rejecting neighbors whose widths disagree. The
// network takes ownership of the layers.
func NewNetwork(layers ...*Layer) (*Network, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("nn: network needs at least one layer")
	}
	for i := 1; i < len(layers); i++ {
		if layers[i-1].out != layers[i].in {
			return nil, fmt.Errorf("nn: layer %d produces %d outputs but layer %d expects %d inputs",
				i-1, layers[i-1].out, i, layers[i].in)
		}
	}
	return &Network{layers: layers}, nil
}

// Layers returns the network's layers in order. The network keeps ownership.
func (n *Network) Layers() []*Layer { return n.layers }

// Engine returns the engine the network's parameters live on.
func (n *Network) Engine() compute.Engine { return n.layers[0].Engine() }

// In returns the width the network consumes.
func (n *Network) In() int { return n.layers[0].in }

// Out returns the width the network produces.
func (n *Network) Out() int { return n.layers[len(n.layers)-1].out }

// Forward runs the batch through every layer and returns the final
// activations, which the caller owns. Each layer caches its part of the pass
// for the next Backward; calling Forward again replaces those caches.
func (n *Network) Forward(x *matrix.Matrix) (*matrix.Matrix, error) {
	n.releaseInflight()

	cur := x
	for _, layer := range n.layers {
		next, err := layer.Forward(cur)
		if err != nil {
			if cur != x {
				cur.Release()
			}
			n.invalidate()
			return nil, err
		}
		if cur != x {
			n.inflight = append(n.inflight, cur)
		}
		cur = next
	}
	return cur, nil
}

// Predict runs a forward pass for inference and drops the caches it leaves
// behind, since no backward pass will follow. The caller owns the result.
func (n *Network) Predict(x *matrix.Matrix) (*matrix.Matrix, error) {
	out, err := n.Forward(x)
	if err != nil {
		return nil, err
	}
	n.invalidate()
	return out, nil
}

// Backward propagates the loss gradient with respect to the network output
// back through every layer, consuming the cached forward pass. It returns
// one Gradients per layer, in layer order; the caller owns them, typically
// handing them straight to Update.
func (n *Network) Backward(gradOut *matrix.Matrix) ([]Gradients, error) {
	grads := make([]Gradients, len(n.layers))
	cur := gradOut
	for i := len(n.layers) - 1; i >= 0; i-- {
		g, next, err := n.layers[i].Backward(cur)
		if cur != gradOut {
			cur.Release()
		}
		if err != nil {
			for _, held := range grads {
				held.release()
			}
			return nil, err
		}
		grads[i] = g
		cur = next
	}
	if cur != gradOut {
		cur.Release()
	}
	n.releaseInflight()
	return grads, nil
}

// Update applies one in-place SGD step per layer and releases the gradients.
func (n *Network) Update(grads []Gradients, lr float32) error {
	if len(grads) != len(n.layers) {
		return fmt.Errorf("nn: got %d gradient sets for %d layers", len(grads), len(n.layers))
	}
	for i, layer := range n.layers {
		if err := layer.Update(grads[i], lr); err != nil {
			return err
		}
	}
	return nil
}

// Release frees every layer and any held activations.
func (n *Network) Release() {
	n.invalidate()
	for _, layer := range n.layers {
		layer.Release()
	}
}

func (n *Network) releaseInflight() {
	for _, m := range n.inflight {
		m.Release()
	}
	n.inflight = n.inflight[:0]
}

// invalidate drops every layer's cache before releasing the activations
// backing them, so a later Backward fails cleanly instead of touching freed
// buffers.
func (n *Network) invalidate() {
	for _, layer := range n.layers {
		layer.resetCache()
	}
	n.releaseInflight()
}
