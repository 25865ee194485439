package browser

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/chromedp"

	"github.com/GoodchildTrevor/kinescope-donwloader/internal/capture"
)

const (
	contentFrameSelector = "iframe#unit-iframe"
	playerFrameSelector  = "iframe[src*='kinescope.io']"

	documentPollInterval = 250 * time.Millisecond
)

var errNoDocument = errors.New("frame has no document")

// ContentDocument waits for the lesson iframe and its nested document.
func (s *Session) ContentDocument(ctx context.Context) (capture.Document, error) {
	node, err := s.frameDocument(ctx, contentFrameSelector, nil)
	if err != nil {
		return nil, err
	}
	return &document{session: s, node: node}, nil
}

// frameDocument waits until the first iframe matching selector (below from,
// when set) exists and has a content document.
func (s *Session) frameDocument(ctx context.Context, selector string, from *cdp.Node) (*cdp.Node, error) {
	opts := []chromedp.QueryOption{chromedp.ByQuery}
	if from != nil {
		opts = append(opts, chromedp.FromNode(from))
	}
	for {
		var nodes []*cdp.Node
		if err := s.run(ctx, 0, chromedp.Nodes(selector, &nodes, opts...)); err != nil {
			return nil, fmt.Errorf("%s: %w", selector, err)
		}
		if len(nodes) > 0 && nodes[0].ContentDocument != nil {
			return nodes[0].ContentDocument, nil
		}
		if err := capture.Sleep(ctx, documentPollInterval); err != nil {
			return nil, fmt.Errorf("%s: %w", selector, errNoDocument)
		}
	}
}

type document struct {
	session *Session
	node    *cdp.Node
}

func (d *document) HTML(ctx context.Context) (string, error) {
	var html string
	err := d.session.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		html, err = dom.GetOuterHTML().WithNodeID(d.node.NodeID).Do(ctx)
		return err
	}))
	return html, err
}

func (d *document) VideoFrames(ctx context.Context) ([]capture.VideoFrame, error) {
	var nodes []*cdp.Node
	err := d.session.run(ctx, 0, chromedp.Nodes(playerFrameSelector, &nodes, chromedp.ByQueryAll, chromedp.FromNode(d.node)))
	if err != nil {
		return nil, err
	}
	frames := make([]capture.VideoFrame, 0, len(nodes))
	for _, n := range nodes {
		frames = append(frames, &videoFrame{session: d.session, node: n})
	}
	return frames, nil
}

type videoFrame struct {
	session *Session
	node    *cdp.Node
}

func (f *videoFrame) Content(context.Context) (capture.Frame, error) {
	if f.node.ContentDocument == nil {
		return nil, errNoDocument
	}
	return &playerFrame{session: f.session, doc: f.node.ContentDocument}, nil
}

// BoundingBox reports the border box of the iframe element. A node without
// layout has no box.
func (f *videoFrame) BoundingBox(ctx context.Context) (capture.Box, bool, error) {
	var model *dom.BoxModel
	err := f.session.run(ctx, 0, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		model, err = dom.GetBoxModel().WithNodeID(f.node.NodeID).Do(ctx)
		return err
	}))
	if err != nil {
		if ctx.Err() != nil {
			return capture.Box{}, false, ctx.Err()
		}
		return capture.Box{}, false, nil
	}
	if model == nil {
		return capture.Box{}, false, nil
	}
	box, ok := boxFromQuad(model.Border)
	return box, ok, nil
}

type playerFrame struct {
	session *Session
	doc     *cdp.Node
}

// ClickFirst clicks the first visible element matching selector inside the
// player document.
func (p *playerFrame) ClickFirst(ctx context.Context, selector string) error {
	return p.session.run(ctx, 0, chromedp.Click(selector, chromedp.ByQuery, chromedp.FromNode(p.doc)))
}

// boxFromQuad converts a CDP quad (four x,y points) to the rectangle that
// encloses it.
func boxFromQuad(quad dom.Quad) (capture.Box, bool) {
	if len(quad) < 8 {
		return capture.Box{}, false
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i+1 < 8; i += 2 {
		minX = math.Min(minX, quad[i])
		maxX = math.Max(maxX, quad[i])
		minY = math.Min(minY, quad[i+1])
		maxY = math.Max(maxY, quad[i+1])
	}
	if maxX-minX <= 0 || maxY-minY <= 0 {
		return capture.Box{}, false
	}
	return capture.Box{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}, true
}
