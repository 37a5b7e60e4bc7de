package convert

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kstaniek/go-fp-driver/internal/frame"
	"github.com/kstaniek/go-fp-driver/internal/logging"
	"github.com/kstaniek/go-fp-driver/internal/metrics"
)

// VendorTag is the first token of every built-in ascii sentence.
const VendorTag = "FP"

// Binary message ids with a built-in converter.
const MsgIDBestGNSSPos uint16 = 1429

type asciiKey struct{ tag, typ string }

// Registry routes frames to converters. Built-in categories are resolved
// with a closed switch over the frame key; extra ascii or binary handlers
// can be attached for keys outside the built-in set.
//
// A Registry is owned by one goroutine; it does no locking.
type Registry struct {
	sink  Emit
	log   *slog.Logger
	order []Category
	byCat map[Category]Converter
	ascii map[asciiKey]Converter
	bin   map[uint16]Converter
}

type RegistryOption func(*Registry)

func WithLogger(l *slog.Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRegistry returns an empty registry that hands records to sink.
func NewRegistry(sink Emit, opts ...RegistryOption) *Registry {
	if sink == nil {
		sink = func(Record) {}
	}
	r := &Registry{
		sink:  sink,
		log:   logging.L(),
		byCat: make(map[Category]Converter),
		ascii: make(map[asciiKey]Converter),
		bin:   make(map[uint16]Converter),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Build registers each named category. Unknown names are logged and skipped.
func Build(names []string, sink Emit, opts ...RegistryOption) *Registry {
	r := NewRegistry(sink, opts...)
	for _, n := range names {
		c, ok := ParseCategory(n)
		if !ok {
			r.log.Warn("unknown_category", "name", n)
			continue
		}
		if err := r.Register(c); err != nil {
			r.log.Warn("register_failed", "category", string(c), "error", err)
		}
	}
	return r
}

// Register installs the converter for c together with anything it depends
// on. Registering a category that is already present is a no-op, so a
// dependency is installed once however many times it is requested.
func (r *Registry) Register(c Category) error {
	if _, ok := r.byCat[c]; ok {
		return nil
	}
	conv := newConverter(c)
	if conv == nil {
		return fmt.Errorf("no converter for category %q", c)
	}
	r.byCat[c] = conv
	r.order = append(r.order, c)
	for _, dep := range dependencies(c) {
		if err := r.Register(dep); err != nil {
			return err
		}
	}
	return nil
}

// HandleAscii attaches a converter for an ascii key outside the built-in set.
func (r *Registry) HandleAscii(tag, typ string, c Converter) {
	r.ascii[asciiKey{tag, typ}] = c
}

// HandleBinary attaches a converter for a binary message id.
func (r *Registry) HandleBinary(id uint16, c Converter) { r.bin[id] = c }

// Len counts registered converters, built-in and attached.
func (r *Registry) Len() int { return len(r.byCat) + len(r.ascii) + len(r.bin) }

// Categories lists built-in categories in registration order.
func (r *Registry) Categories() []Category { return append([]Category(nil), r.order...) }

// Has reports whether built-in category c is registered.
func (r *Registry) Has(c Category) bool { _, ok := r.byCat[c]; return ok }

// Dispatch hands f to its converter. It reports false when no converter is
// registered for the frame, in which case the frame is dropped. Converter
// errors are counted and logged; they never stop the caller.
func (r *Registry) Dispatch(f frame.Frame) bool {
	conv := r.lookup(f)
	if conv == nil {
		metrics.IncUnhandled()
		if r.log.Enabled(context.Background(), slog.LevelDebug) {
			tag, typ := f.Key()
			r.log.Debug("unhandled_frame", "protocol", f.Protocol.String(), "id", f.ID, "tag", tag, "type", typ)
		}
		return false
	}
	emit := func(rec Record) {
		metrics.IncRecord(string(rec.Category))
		r.sink(rec)
	}
	if err := conv.Convert(f, emit); err != nil {
		metrics.IncConvertError(string(conv.Category()))
		r.log.Debug("convert_error", "category", string(conv.Category()), "error", err)
	}
	return true
}

func (r *Registry) lookup(f frame.Frame) Converter {
	if c, ok := route(f); ok {
		if conv, ok := r.byCat[c]; ok {
			return conv
		}
	}
	switch f.Protocol {
	case frame.Ascii:
		tag, typ := f.Key()
		return r.ascii[asciiKey{tag, typ}]
	case frame.Binary:
		return r.bin[f.ID]
	}
	return nil
}

// route maps a frame to its built-in category, if it has one.
func route(f frame.Frame) (Category, bool) {
	switch f.Protocol {
	case frame.Binary:
		switch f.ID {
		case MsgIDBestGNSSPos:
			return CategoryBestGNSSPos, true
		}
	case frame.Ascii:
		tag, typ := f.Key()
		if tag != VendorTag {
			return "", false
		}
		switch typ {
		case "ODOMETRY":
			return CategoryOdometry, true
		case "LLH":
			return CategoryLLH, true
		case "RAWIMU":
			return CategoryRawIMU, true
		case "CORRIMU":
			return CategoryCorrIMU, true
		case "TF":
			return CategoryTF, true
		case "TEXT":
			return CategoryText, true
		}
	}
	return "", false
}

func newConverter(c Category) Converter {
	switch c {
	case CategoryOdometry:
		return &odometryConverter{}
	case CategoryLLH:
		return llhConverter{}
	case CategoryRawIMU:
		return imuConverter{cat: CategoryRawIMU}
	case CategoryCorrIMU:
		return imuConverter{cat: CategoryCorrIMU, corrected: true}
	case CategoryTF:
		return tfConverter{}
	case CategoryText:
		return textConverter{}
	case CategoryBestGNSSPos:
		return bestGNSSPosConverter{}
	}
	return nil
}

// dependencies lists categories that must be registered alongside c.
// Odometry consumers need the sensor mounting transforms.
func dependencies(c Category) []Category {
	if c == CategoryOdometry {
		return []Category{CategoryTF}
	}
	return nil
}
