package pipeline

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"open-data-insight/internal/model"
)

// NormalizerOptions controls flattening and type inference.
type NormalizerOptions struct {
	MaxFlattenDepth int
	InferenceSample int
	TypeThreshold   float64
}

func (o NormalizerOptions) withDefaults() NormalizerOptions {
	if o.MaxFlattenDepth <= 0 {
		o.MaxFlattenDepth = 3
	}
	if o.InferenceSample <= 0 {
		o.InferenceSample = 1000
	}
	if o.TypeThreshold <= 0 || o.TypeThreshold > 1 {
		o.TypeThreshold = 0.9
	}
	return o
}

// Normalizer turns raw pages into flat records and infers a schema.
type Normalizer struct {
	opts NormalizerOptions
}

func NewNormalizer(opts NormalizerOptions) *Normalizer {
	return &Normalizer{opts: opts.withDefaults()}
}

// ParsedPage is the normalized content of one page.
type ParsedPage struct {
	Format  model.DataFormat
	Records []model.Record
	Columns []string // first-seen order within the page

	// Next is the body's next pointer: a URL string or an object of query
	// parameters. NextPresent is true when the body carried a next field
	// at all, so an explicit null ends pagination.
	Next        any
	NextPresent bool

	// Skipped counts list items that were not objects and so produced no
	// record.
	Skipped int
}

// DetectFormat returns the parsers to try, in order. A declared format is
// the only candidate; auto uses the content type, then the first byte.
func DetectFormat(declared model.DataFormat, contentType string, body []byte) []model.DataFormat {
	switch declared {
	case model.FormatJSON:
		return []model.DataFormat{model.FormatJSON}
	case model.FormatXML:
		return []model.DataFormat{model.FormatXML}
	}
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return []model.DataFormat{model.FormatJSON, model.FormatXML}
	case strings.Contains(ct, "xml"):
		return []model.DataFormat{model.FormatXML, model.FormatJSON}
	}
	trimmed := bytes.TrimLeft(body, " \t\r\n\ufeff")
	if len(trimmed) > 0 && trimmed[0] == '<' {
		return []model.DataFormat{model.FormatXML, model.FormatJSON}
	}
	return []model.DataFormat{model.FormatJSON, model.FormatXML}
}

// ParsePage parses one page body. It returns a *FormatError when no
// candidate parser accepts the payload.
func (n *Normalizer) ParsePage(page *Page, declared model.DataFormat) (*ParsedPage, error) {
	var firstErr error
	for _, format := range DetectFormat(declared, page.ContentType, page.Body) {
		var (
			parsed *ParsedPage
			err    error
		)
		switch format {
		case model.FormatJSON:
			parsed, err = n.parseJSON(page.Body)
		case model.FormatXML:
			parsed, err = n.parseXML(page.Body)
		}
		if err == nil {
			parsed.Format = format
			return parsed, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, &FormatError{Format: declared, URL: page.URL, Err: firstErr}
}

// ---------- JSON ----------

var recordListKeys = []string{"results", "data", "items", "records"}

func (n *Normalizer) parseJSON(body []byte) (*ParsedPage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	payload, err := decodeOrdered(dec)
	if err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("unexpected data after top-level value")
	}

	found := extractJSONRecords(payload)
	out := &ParsedPage{
		Records:     make([]model.Record, 0, len(found.items)),
		Next:        found.next,
		NextPresent: found.present,
		Skipped:     found.skipped,
	}
	seen := make(map[string]struct{})
	for _, item := range found.items {
		rec, keys := n.flatten(item)
		out.Records = append(out.Records, rec)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out.Columns = append(out.Columns, k)
			}
		}
	}
	return out, nil
}

type jsonRecords struct {
	items   []*orderedObject
	skipped int
	next    any
	present bool
}

// extractJSONRecords locates the record list inside a decoded payload.
func extractJSONRecords(payload any) jsonRecords {
	switch v := payload.(type) {
	case []any:
		return objectsIn(v)
	case *orderedObject:
		if v.Len() == 1 {
			if inner := extractJSONRecords(v.values[v.keys[0]]); len(inner.items) > 0 {
				return inner
			}
		}
		for _, key := range recordListKeys {
			if list, ok := v.values[key].([]any); ok {
				found := objectsIn(list)
				found.next, found.present = nextPointer(v)
				return found
			}
		}
		if list, ok := v.values["row"].([]any); ok {
			return objectsIn(list)
		}
		if v.Len() > 0 && v.allScalar() {
			return jsonRecords{items: []*orderedObject{v}}
		}
	}
	return jsonRecords{}
}

func objectsIn(list []any) jsonRecords {
	out := jsonRecords{items: make([]*orderedObject, 0, len(list))}
	for _, item := range list {
		if obj, ok := item.(*orderedObject); ok {
			out.items = append(out.items, obj)
			continue
		}
		out.skipped++
	}
	return out
}

func nextPointer(obj *orderedObject) (any, bool) {
	if raw, ok := obj.values["next"]; ok {
		switch raw.(type) {
		case string, *orderedObject:
			return raw, true
		}
		return nil, raw == nil
	}
	if links, ok := obj.values["links"].(*orderedObject); ok {
		if raw, ok := links.values["next"]; ok {
			switch raw.(type) {
			case string, *orderedObject:
				return raw, true
			}
			return nil, raw == nil
		}
	}
	return nil, false
}

// orderedObject is a JSON object that remembers key order so columns keep
// the order in which the feed emits them.
type orderedObject struct {
	keys   []string
	values map[string]any
}

func (o *orderedObject) Len() int { return len(o.keys) }

func (o *orderedObject) allScalar() bool {
	for _, v := range o.values {
		switch v.(type) {
		case *orderedObject, []any:
			return false
		}
	}
	return true
}

func (o *orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func decodeOrdered(dec *json.Decoder) (any, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			obj := &orderedObject{values: make(map[string]any)}
			for dec.More() {
				keyTok, err := dec.Token()
				if err != nil {
					return nil, err
				}
				key, ok := keyTok.(string)
				if !ok {
					return nil, fmt.Errorf("unexpected object key %v", keyTok)
				}
				val, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				if _, dup := obj.values[key]; !dup {
					obj.keys = append(obj.keys, key)
				}
				obj.values[key] = val
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return obj, nil
		case '[':
			list := []any{}
			for dec.More() {
				val, err := decodeOrdered(dec)
				if err != nil {
					return nil, err
				}
				list = append(list, val)
			}
			if _, err := dec.Token(); err != nil {
				return nil, err
			}
			return list, nil
		default:
			return nil, fmt.Errorf("unexpected delimiter %v", t)
		}
	default:
		return tok, nil
	}
}

// ---------- XML ----------

type xmlNode struct {
	name     string
	attrs    []xml.Attr
	text     strings.Builder
	children []*xmlNode
}

func parseXMLTree(body []byte) (*xmlNode, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = true
	var (
		root  *xmlNode
		stack []*xmlNode
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			node := &xmlNode{name: t.Name.Local, attrs: t.Attr}
			if len(stack) == 0 {
				if root != nil {
					return nil, errors.New("multiple root elements")
				}
				root = node
			} else {
				parent := stack[len(stack)-1]
				parent.children = append(parent.children, node)
			}
			stack = append(stack, node)
		case xml.EndElement:
			stack = stack[:len(stack)-1]
		case xml.CharData:
			if len(stack) > 0 {
				stack[len(stack)-1].text.Write(t)
			} else if len(bytes.TrimSpace(t)) > 0 {
				return nil, errors.New("character data outside root element")
			}
		}
	}
	if root == nil {
		return nil, errors.New("no root element")
	}
	return root, nil
}

func (n *Normalizer) parseXML(body []byte) (*ParsedPage, error) {
	root, err := parseXMLTree(body)
	if err != nil {
		return nil, err
	}
	out := &ParsedPage{}
	seen := make(map[string]struct{})
	for _, el := range recordElements(root) {
		rec, keys := n.xmlRecord(el)
		if len(rec) == 0 {
			continue
		}
		out.Records = append(out.Records, rec)
		for _, k := range keys {
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				out.Columns = append(out.Columns, k)
			}
		}
	}
	if len(out.Records) == 0 {
		out.Records = []model.Record{{root.name: textValue(root.text.String())}}
		out.Columns = []string{root.name}
	}
	return out, nil
}

// recordElements descends through single-child wrappers and returns the
// repeating sibling group. When nothing repeats, a node whose children are
// all leaves is itself one record; otherwise every child is a record.
func recordElements(root *xmlNode) []*xmlNode {
	node := root
	for len(node.children) == 1 && isContainer(node.children[0]) {
		node = node.children[0]
	}
	counts := make(map[string]int)
	best := ""
	for _, c := range node.children {
		counts[c.name]++
		if counts[c.name] > counts[best] {
			best = c.name
		}
	}
	if counts[best] < 2 {
		if len(node.children) > 0 && allLeaves(node.children) {
			return []*xmlNode{node}
		}
		return node.children
	}
	var group []*xmlNode
	for _, c := range node.children {
		if c.name == best {
			group = append(group, c)
		}
	}
	return group
}

func allLeaves(nodes []*xmlNode) bool {
	for _, c := range nodes {
		if len(c.children) > 0 {
			return false
		}
	}
	return true
}

func isContainer(n *xmlNode) bool {
	if len(n.children) == 0 {
		return false
	}
	for _, c := range n.children {
		if len(c.children) == 0 {
			return false
		}
	}
	return true
}

func (n *Normalizer) xmlRecord(el *xmlNode) (model.Record, []string) {
	rec := make(model.Record)
	var keys []string
	set := func(k string, v model.Value) {
		if _, ok := rec[k]; !ok {
			keys = append(keys, k)
		}
		rec[k] = v
	}
	for _, a := range el.attrs {
		set("@"+a.Name.Local, textValue(a.Value))
	}
	if len(el.children) == 0 {
		if text := strings.TrimSpace(el.text.String()); text != "" {
			set(el.name, model.StringValue(text))
		}
		return rec, keys
	}
	n.flattenXML(el.children, "", 1, set)
	return rec, keys
}

func (n *Normalizer) flattenXML(children []*xmlNode, prefix string, depth int, set func(string, model.Value)) {
	repeated := make(map[string][]string)
	var order []string
	for _, c := range children {
		name := joinKey(prefix, c.name)
		for _, a := range c.attrs {
			set(name+"@"+a.Name.Local, textValue(a.Value))
		}
		switch {
		case len(c.children) == 0:
			if _, ok := repeated[name]; !ok {
				order = append(order, name)
			}
			repeated[name] = append(repeated[name], strings.TrimSpace(c.text.String()))
		case depth < n.opts.MaxFlattenDepth:
			n.flattenXML(c.children, name, depth+1, set)
		default:
			set(name, model.StringValue(xmlInnerText(c)))
		}
	}
	for _, name := range order {
		vals := repeated[name]
		if len(vals) == 1 {
			set(name, textValue(vals[0]))
			continue
		}
		data, _ := json.Marshal(vals)
		set(name, model.StringValue(string(data)))
	}
}

func xmlInnerText(n *xmlNode) string {
	var parts []string
	var walk func(*xmlNode)
	walk = func(x *xmlNode) {
		if t := strings.TrimSpace(x.text.String()); t != "" {
			parts = append(parts, t)
		}
		for _, c := range x.children {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}

func textValue(s string) model.Value {
	s = strings.TrimSpace(s)
	if s == "" {
		return model.NullValue()
	}
	return model.StringValue(s)
}
