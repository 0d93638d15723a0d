// Package param holds the tracking parameter key-space and the ordered
// parameter container that every override layer is expressed in.
package param

import (
	"fmt"
	"strconv"
	"strings"
)

// Name is a well-known tracking field.
type Name uint8

const (
	nameNone Name = iota
	ActivityName
	Timestamp
	ScreenResolution
	ScreenDepth
	Timezone
	UserAgent
	DevLang
	Sampling
	EverID
	ForceNewSession
	AppFirstStart
	ActionName
	Currency
	OrderValue
	OrderNumber
	Product
	ProductCount
	ProductCost
	ProductStatus
	CustomerID
	InternalSearch
)

// Category is the family of a free-form numbered field.
type Category uint8

const (
	categoryNone Category = iota
	PageCategory
	Page
	Action
	Session
	Ecom
	Customer
	ProductCategory
	MediaCategory
)

var nameWire = map[Name]string{
	ActivityName:     "pn",
	Timestamp:        "mts",
	ScreenResolution: "sr",
	ScreenDepth:      "sd",
	Timezone:         "tz",
	UserAgent:        "X-WT-UA",
	DevLang:          "la",
	Sampling:         "ps",
	EverID:           "eid",
	ForceNewSession:  "fns",
	AppFirstStart:    "one",
	ActionName:       "ct",
	Currency:         "cr",
	OrderValue:       "ov",
	OrderNumber:      "oi",
	Product:          "ba",
	ProductCount:     "qn",
	ProductCost:      "co",
	ProductStatus:    "st",
	CustomerID:       "cd",
	InternalSearch:   "is",
}

var categoryWire = map[Category]string{
	PageCategory:    "cg",
	Page:            "cp",
	Action:          "ck",
	Session:         "cs",
	Ecom:            "cb",
	Customer:        "uc",
	ProductCategory: "ca",
	MediaCategory:   "mg",
}

var (
	wireName     = invert(nameWire)
	wireCategory = invert(categoryWire)
)

func invert[K comparable](m map[K]string) map[string]K {
	out := make(map[string]K, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// Key identifies a parameter. It is either a well-known Name or a
// (Category, slot) pair. Keys are comparable and usable as map keys.
type Key struct {
	name     Name
	category Category
	slot     int
}

// Named returns the key for a well-known field.
func Named(n Name) Key {
	return Key{name: n}
}

// Slot returns the key for numbered slot n of category c.
func Slot(c Category, n int) Key {
	return Key{category: c, slot: n}
}

// Name returns the well-known name, or zero for slot keys.
func (k Key) Name() Name { return k.name }

// Category returns the slot category, or zero for well-known keys.
func (k Key) Category() Category { return k.category }

// SlotNumber returns the slot number of a slot key.
func (k Key) SlotNumber() int { return k.slot }

// IsSlot reports whether k is a numbered slot key.
func (k Key) IsSlot() bool { return k.category != categoryNone }

// Wire returns the URL parameter name, e.g. "eid" or "cg2".
func (k Key) Wire() string {
	if k.IsSlot() {
		return categoryWire[k.category] + strconv.Itoa(k.slot)
	}
	return nameWire[k.name]
}

func (k Key) String() string { return k.Wire() }

// ParseKey maps a wire name such as "cp3" or "eid" back to its Key.
func ParseKey(s string) (Key, error) {
	s = strings.TrimSpace(s)
	if n, ok := wireName[s]; ok {
		return Named(n), nil
	}
	if len(s) > 2 {
		if c, ok := wireCategory[s[:2]]; ok {
			n, err := strconv.Atoi(s[2:])
			if err == nil && n > 0 {
				return Slot(c, n), nil
			}
		}
	}
	return Key{}, fmt.Errorf("unknown parameter key %q", s)
}
