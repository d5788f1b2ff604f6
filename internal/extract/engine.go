package extract

import (
	"context"
	"fmt"
	"regexp"
)

// Queryable is the DOM query surface the engine needs from the browser
// driver. Both a whole page and a single element satisfy it.
type Queryable interface {
	// Elements returns the elements matching a CSS selector, in document
	// order. An empty result is not an error.
	Elements(ctx context.Context, selector string) ([]Element, error)
	// ElementsX is Elements for an XPath expression.
	ElementsX(ctx context.Context, xpath string) ([]Element, error)
	// HTML returns the serialized markup of the node.
	HTML(ctx context.Context) (string, error)
}

// Element is one live DOM element.
type Element interface {
	Queryable
	// Text returns the element's visible text content.
	Text(ctx context.Context) (string, error)
	// Attribute returns the named attribute, or "" when absent.
	Attribute(ctx context.Context, name string) (string, error)
}

// task is one unit of extraction work: resolve node against el and write the
// outcome into the record list addressed by list. Lists are addressed by
// arena index so parallel branches writing into the same parent never hold
// aliased references.
type task struct {
	el   Queryable
	key  string
	node *Node
	list int
}

type engine struct {
	lists []*recordList
	queue []task
}

// Run walks spec against root and returns the result tree. Branches that
// match nothing contribute zero records; a node with none of selector, xpath
// or regex set (and no children) yields no output for its key.
func Run(ctx context.Context, root Queryable, spec *Spec) (Result, error) {
	e := &engine{lists: []*recordList{{}}}
	for _, ent := range spec.Entries {
		e.queue = append(e.queue, task{el: root, key: ent.Key, node: ent.Node, list: 0})
	}
	for len(e.queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t := e.queue[0]
		e.queue = e.queue[1:]
		if err := e.process(ctx, t); err != nil {
			return nil, err
		}
	}
	return Result(e.lists[0].records), nil
}

func (e *engine) process(ctx context.Context, t task) error {
	if t.node.Children != nil {
		return e.processBranch(ctx, t)
	}
	return e.processLeaf(ctx, t)
}

// processBranch resolves the structural node's own target and, for each
// matched element i, attaches a fresh nested slot to the i-th record of the
// parent list, then queues one child task per child entry against that
// element.
func (e *engine) processBranch(ctx context.Context, t task) error {
	els, err := matchElements(ctx, t.el, t.node)
	if err != nil {
		return fmt.Errorf("key %q: %w", t.key, err)
	}
	for i, el := range els {
		rec := e.record(t.list, i)
		nested := len(e.lists)
		e.lists = append(e.lists, &recordList{})
		rec.Set(t.key, e.lists[nested])
		for _, ent := range t.node.Children.Entries {
			e.queue = append(e.queue, task{el: el, key: ent.Key, node: ent.Node, list: nested})
		}
	}
	return nil
}

func (e *engine) processLeaf(ctx context.Context, t task) error {
	values, err := resolveValues(ctx, t.el, t.node)
	if err != nil {
		return fmt.Errorf("key %q: %w", t.key, err)
	}
	for j, v := range values {
		e.record(t.list, j).Add(t.key, v)
	}
	return nil
}

// record returns the i-th record of a list, growing the list with empty
// records as needed so parallel branches align by element position.
func (e *engine) record(list, i int) *Record {
	l := e.lists[list]
	for len(l.records) <= i {
		l.records = append(l.records, newRecord())
	}
	return l.records[i]
}

// resolveValues evaluates a leaf node against el, producing its ordered
// scalar values.
func resolveValues(ctx context.Context, el Queryable, n *Node) ([]string, error) {
	if n.Regex != "" {
		return resolveRegex(ctx, el, n)
	}
	els, err := matchElements(ctx, el, n)
	if err != nil {
		return nil, err
	}
	values := make([]string, 0, len(els))
	for _, m := range els {
		var v string
		if n.Attribute == "" {
			v, err = m.Text(ctx)
		} else {
			v, err = m.Attribute(ctx, n.Attribute)
		}
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// resolveRegex matches the node's pattern (case-insensitive, global,
// non-overlapping) against the element's serialized markup.
func resolveRegex(ctx context.Context, el Queryable, n *Node) ([]string, error) {
	if n.re == nil {
		// Specs loaded through config are validated up front; compile here
		// for specs constructed in code.
		re, err := regexp.Compile("(?i)" + n.Regex)
		if err != nil {
			return nil, err
		}
		n.re = re
	}
	content, err := el.HTML(ctx)
	if err != nil {
		return nil, err
	}
	return n.re.FindAllString(content, -1), nil
}

func matchElements(ctx context.Context, el Queryable, n *Node) ([]Element, error) {
	switch {
	case n.XPath != "":
		return el.ElementsX(ctx, n.XPath)
	case n.Selector != "":
		return el.Elements(ctx, n.Selector)
	default:
		// Malformed leaf with nothing to resolve: no output for this key.
		return nil, nil
	}
}
