package dom

import (
	"errors"

	"golang.org/x/net/html"
)

// ErrMutationLoop is returned by Flush when observer callbacks keep
// producing records past the round limit.
var ErrMutationLoop = errors.New("dom: mutation delivery did not settle")

// MutationType names the kind of change a record describes.
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// MutationRecord describes one change to the tree.
type MutationRecord struct {
	Type          MutationType
	Target        *html.Node
	AddedNodes    []*html.Node
	RemovedNodes  []*html.Node
	AttributeName string
	OldValue      string
}

// ObserveOptions selects which records an observer receives.
type ObserveOptions struct {
	ChildList     bool
	Attributes    bool
	CharacterData bool
	Subtree       bool
}

// MutationCallback receives a batch of records.
type MutationCallback func(records []MutationRecord, o *Observer)

// Observer collects mutation records for one target and hands them to its
// callback when the document is flushed.
type Observer struct {
	doc       *Document
	callback  MutationCallback
	target    *html.Node
	opts      ObserveOptions
	connected bool
	pending   []MutationRecord
}

// NewObserver creates an observer that is not yet observing anything.
func (d *Document) NewObserver(cb MutationCallback) *Observer {
	o := &Observer{doc: d, callback: cb}
	d.observers = append(d.observers, o)
	return o
}

// Observe starts (or re-targets) observation.
func (o *Observer) Observe(target *html.Node, opts ObserveOptions) {
	o.target = target
	o.opts = opts
	o.connected = true
}

// Disconnect stops observation and discards undelivered records.
func (o *Observer) Disconnect() {
	o.connected = false
	o.pending = nil
}

// Connected reports whether the observer is observing.
func (o *Observer) Connected() bool { return o.connected }

// TakeRecords returns and clears the undelivered records.
func (o *Observer) TakeRecords() []MutationRecord {
	recs := o.pending
	o.pending = nil
	return recs
}

func (o *Observer) wants(rec MutationRecord) bool {
	if !o.connected {
		return false
	}
	switch rec.Type {
	case MutationChildList:
		if !o.opts.ChildList {
			return false
		}
	case MutationAttributes:
		if !o.opts.Attributes {
			return false
		}
	case MutationCharacterData:
		if !o.opts.CharacterData {
			return false
		}
	}
	if rec.Target == o.target {
		return true
	}
	if !o.opts.Subtree {
		return false
	}
	// Subtree observation stops at shadow roots, as in browsers.
	for p := rec.Target.Parent; p != nil; p = p.Parent {
		if p == o.target {
			return true
		}
		if IsShadowRoot(p) {
			return false
		}
	}
	return false
}

func (d *Document) queue(rec MutationRecord) {
	for _, o := range d.observers {
		if o.wants(rec) {
			o.pending = append(o.pending, rec)
		}
	}
}

// Flush delivers pending records, one batch per observer per round, until no
// records remain. Records produced by a callback wait for the next round.
// It returns the number of rounds run.
func (d *Document) Flush() (int, error) {
	limit := d.MaxFlushRounds
	if limit <= 0 {
		limit = defaultMaxFlushRounds
	}
	rounds := 0
	for {
		type batch struct {
			o    *Observer
			recs []MutationRecord
		}
		var batches []batch
		for _, o := range d.observers {
			if len(o.pending) > 0 {
				batches = append(batches, batch{o: o, recs: o.TakeRecords()})
			}
		}
		if len(batches) == 0 {
			return rounds, nil
		}
		if rounds == limit {
			return rounds, ErrMutationLoop
		}
		rounds++
		for _, b := range batches {
			if b.o.callback != nil {
				b.o.callback(b.recs, b.o)
			}
		}
	}
}
