// Package ir provides the value types shared by estimators, the container
// codec and the sequence store.
//
// This package contains type definitions only. All other internal packages
// import ir; ir imports nothing internal. This keeps ir the foundational layer
// with no circular dependencies.
//
// Key design constraints:
//   - Value is a closed variant: Null, Int, Real, Text, Bool, Array, Model
//     and ModelList. Anything else cannot be persisted.
//   - Null means "absent". A persisted Null is indistinguishable from a
//     missing entry, and that is the intended reading on load.
//   - Array carries its dtype so that float32/int32 data round-trips exactly.
//   - All JSON tags use snake_case
package ir
