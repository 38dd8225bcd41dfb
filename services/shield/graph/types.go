// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graph

import (
	"fmt"
	"strings"
	"time"
)

// Default configuration values.
const (
	// DefaultMaxNodes is the default maximum number of nodes the store can hold.
	DefaultMaxNodes = 10_000_000

	// DefaultMaxEdges is the default maximum number of edges the store can hold.
	DefaultMaxEdges = 100_000_000

	// DefaultShardCount is the default number of store shards.
	// Must be a power of two so shard selection is a mask.
	DefaultShardCount = 64
)

// NodeType identifies the entity class of a node.
type NodeType int

const (
	// NodeTypeUnknown indicates an unrecognized node type.
	NodeTypeUnknown NodeType = iota

	// NodeTypeAccount is a financial account.
	NodeTypeAccount

	// NodeTypeCustomer is a customer identity.
	NodeTypeCustomer

	// NodeTypeDevice is a physical or virtual device.
	NodeTypeDevice

	// NodeTypeMerchant is a merchant entity.
	NodeTypeMerchant

	// NumNodeTypes is the total number of node types (for array sizing).
	NumNodeTypes
)

// nodeTypeNames maps NodeType values to their string representations.
var nodeTypeNames = map[NodeType]string{
	NodeTypeUnknown:  "unknown",
	NodeTypeAccount:  "account",
	NodeTypeCustomer: "customer",
	NodeTypeDevice:   "device",
	NodeTypeMerchant: "merchant",
}

// String returns the string representation of the NodeType.
func (t NodeType) String() string {
	if name, ok := nodeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseNodeType converts a wire string into a NodeType. Matching is
// case-insensitive.
func ParseNodeType(s string) (NodeType, error) {
	for t, name := range nodeTypeNames {
		if strings.EqualFold(name, s) && t != NodeTypeUnknown {
			return t, nil
		}
	}
	return NodeTypeUnknown, fmt.Errorf("invalid node type %q", s)
}

// EdgeType defines the type of relationship between nodes.
type EdgeType int

const (
	// EdgeTypeUnknown indicates an unrecognized relationship type.
	EdgeTypeUnknown EdgeType = iota

	// EdgeTypeTransaction indicates a money movement between accounts,
	// or between an account and a merchant.
	EdgeTypeTransaction

	// EdgeTypeUsedDevice indicates an account used a device.
	EdgeTypeUsedDevice

	// EdgeTypeSharesAttribute indicates two nodes share a PII attribute
	// value (SSN, address, phone, etc.).
	EdgeTypeSharesAttribute

	// NumEdgeTypes is the total number of edge types (for array sizing).
	// Used for the per-node adjacency index.
	NumEdgeTypes
)

// edgeTypeNames maps EdgeType values to their string representations.
var edgeTypeNames = map[EdgeType]string{
	EdgeTypeUnknown:         "unknown",
	EdgeTypeTransaction:     "TRANSACTION",
	EdgeTypeUsedDevice:      "USED_DEVICE",
	EdgeTypeSharesAttribute: "SHARES_ATTRIBUTE",
}

// String returns the string representation of the EdgeType.
func (t EdgeType) String() string {
	if name, ok := edgeTypeNames[t]; ok {
		return name
	}
	return "unknown"
}

// ParseEdgeType converts a wire string into an EdgeType. Matching is
// case-insensitive.
func ParseEdgeType(s string) (EdgeType, error) {
	for t, name := range edgeTypeNames {
		if strings.EqualFold(name, s) && t != EdgeTypeUnknown {
			return t, nil
		}
	}
	return EdgeTypeUnknown, fmt.Errorf("invalid edge type %q", s)
}

// Direction selects which adjacency list a neighbor query walks.
type Direction int

const (
	// DirectionBoth walks outgoing then incoming edges. The zero
	// value, so direction-less queries see the full neighborhood.
	DirectionBoth Direction = iota

	// DirectionOut walks outgoing edges (node is the source).
	DirectionOut

	// DirectionIn walks incoming edges (node is the target).
	DirectionIn
)

// String returns the string representation of the Direction.
func (d Direction) String() string {
	switch d {
	case DirectionOut:
		return "out"
	case DirectionIn:
		return "in"
	case DirectionBoth:
		return "both"
	default:
		return "unknown"
	}
}

// ParseDirection converts a wire string into a Direction. The empty
// string maps to DirectionBoth.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(s) {
	case "out":
		return DirectionOut, nil
	case "in":
		return DirectionIn, nil
	case "both", "":
		return DirectionBoth, nil
	default:
		return DirectionBoth, fmt.Errorf("invalid direction %q", s)
	}
}

// AttrKind enumerates the value kinds an attribute may carry.
//
// Node and edge attributes are schema-less property maps, so values are a
// tagged union over a fixed kind set, validated at ingestion.
type AttrKind int

const (
	// AttrKindInvalid indicates a zero or malformed attribute value.
	AttrKindInvalid AttrKind = iota

	// AttrKindString is a UTF-8 string value.
	AttrKindString

	// AttrKindNumber is a float64 value (amounts, counts).
	AttrKindNumber

	// AttrKindTimestamp is a point in time.
	AttrKindTimestamp

	// AttrKindBool is a boolean flag.
	AttrKindBool
)

// String returns the string representation of the AttrKind.
func (k AttrKind) String() string {
	switch k {
	case AttrKindString:
		return "string"
	case AttrKindNumber:
		return "number"
	case AttrKindTimestamp:
		return "timestamp"
	case AttrKindBool:
		return "bool"
	default:
		return "invalid"
	}
}

// AttrValue is a tagged-union attribute value.
//
// Exactly one payload field is meaningful, selected by Kind. Construct
// values with the String/Number/Timestamp/Bool helpers; the zero value is
// invalid and rejected at ingestion.
type AttrValue struct {
	// Kind selects the payload field.
	Kind AttrKind

	// Str is the payload when Kind is AttrKindString.
	Str string

	// Num is the payload when Kind is AttrKindNumber.
	Num float64

	// Time is the payload when Kind is AttrKindTimestamp.
	Time time.Time

	// Bool is the payload when Kind is AttrKindBool.
	Bool bool
}

// String constructs a string attribute value.
func String(s string) AttrValue { return AttrValue{Kind: AttrKindString, Str: s} }

// Number constructs a numeric attribute value.
func Number(n float64) AttrValue { return AttrValue{Kind: AttrKindNumber, Num: n} }

// Timestamp constructs a timestamp attribute value.
func Timestamp(t time.Time) AttrValue { return AttrValue{Kind: AttrKindTimestamp, Time: t} }

// Bool constructs a boolean attribute value.
func Bool(b bool) AttrValue { return AttrValue{Kind: AttrKindBool, Bool: b} }

// Validate checks that the value carries a recognized kind.
func (v AttrValue) Validate() error {
	switch v.Kind {
	case AttrKindString, AttrKindNumber, AttrKindTimestamp, AttrKindBool:
		return nil
	default:
		return ErrUnknownAttributeKind
	}
}

// Attrs is a node or edge attribute map.
type Attrs map[string]AttrValue

// Well-known attribute keys.
const (
	// AttrAmount is the transaction amount (number).
	AttrAmount = "amount"

	// AttrCurrency is the transaction currency code (string).
	AttrCurrency = "currency"

	// AttrTimestamp is the event time of an edge (timestamp).
	AttrTimestamp = "timestamp"

	// AttrMatchKind names the shared attribute behind a SHARES_ATTRIBUTE
	// edge, e.g. "ssn", "address", "phone" (string).
	AttrMatchKind = "match_kind"
)

// Validate checks every value in the map.
func (a Attrs) Validate() error {
	for key, v := range a {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
	}
	return nil
}

// Node represents a typed entity in the fraud graph.
//
// Nodes are created on first reference from ingestion and never deleted,
// only marked inactive. A Node MUST NOT be mutated after admission.
type Node struct {
	// ID is the unique, immutable identifier.
	ID string

	// Type is the entity class. Immutable after first upsert.
	Type NodeType

	// Attrs is the attribute map supplied at ingestion.
	Attrs Attrs

	// Inactive marks a retired node. Inactive nodes stay in the store
	// so historical patterns remain traversable.
	Inactive bool

	// FirstSeen is when the node was first admitted.
	FirstSeen time.Time
}

// Edge represents a directed, typed, attributed relationship.
//
// An Edge MUST NOT be mutated after admission: snapshots and in-flight
// traversals share edge pointers structurally.
type Edge struct {
	// FromID is the id of the source node.
	FromID string

	// ToID is the id of the target node.
	ToID string

	// Type is the relationship type.
	Type EdgeType

	// Attrs is the attribute map supplied at ingestion.
	Attrs Attrs
}

// Amount returns the transaction amount, or 0 if absent.
func (e *Edge) Amount() float64 {
	if v, ok := e.Attrs[AttrAmount]; ok && v.Kind == AttrKindNumber {
		return v.Num
	}
	return 0
}

// Timestamp returns the edge event time and whether one was supplied.
func (e *Edge) Timestamp() (time.Time, bool) {
	if v, ok := e.Attrs[AttrTimestamp]; ok && v.Kind == AttrKindTimestamp {
		return v.Time, true
	}
	return time.Time{}, false
}

// MatchKind returns the shared-attribute kind, or "" if absent.
func (e *Edge) MatchKind() string {
	if v, ok := e.Attrs[AttrMatchKind]; ok && v.Kind == AttrKindString {
		return v.Str
	}
	return ""
}

// OutOfOrderPolicy selects how the store treats timestamp regressions
// within a (source, edge type) stream.
type OutOfOrderPolicy int

const (
	// OutOfOrderWarn admits the edge and logs a warning. Default.
	OutOfOrderWarn OutOfOrderPolicy = iota

	// OutOfOrderReject refuses the edge with ErrOutOfOrderEdge.
	OutOfOrderReject
)

// StoreOptions configures Store behavior and limits.
type StoreOptions struct {
	// MaxNodes is the maximum number of nodes the store can hold.
	// Default: 10,000,000
	MaxNodes int

	// MaxEdges is the maximum number of edges the store can hold.
	// Default: 100,000,000
	MaxEdges int

	// ShardCount is the number of lock shards. Rounded up to a power
	// of two. Default: 64
	ShardCount int

	// OutOfOrder selects the timestamp-regression policy.
	// Default: OutOfOrderWarn
	OutOfOrder OutOfOrderPolicy
}

// Validate checks options and applies defaults for invalid values.
func (o *StoreOptions) Validate() {
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.MaxEdges <= 0 {
		o.MaxEdges = DefaultMaxEdges
	}
	if o.ShardCount <= 0 {
		o.ShardCount = DefaultShardCount
	}
	o.ShardCount = nextPowerOfTwo(o.ShardCount)
}

// DefaultStoreOptions returns sensible defaults.
func DefaultStoreOptions() StoreOptions {
	return StoreOptions{
		MaxNodes:   DefaultMaxNodes,
		MaxEdges:   DefaultMaxEdges,
		ShardCount: DefaultShardCount,
		OutOfOrder: OutOfOrderWarn,
	}
}

// nextPowerOfTwo rounds n up to the nearest power of two.
func nextPowerOfTwo(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}
