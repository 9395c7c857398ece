package types

// Version is the canonical library version.
// The journal record format references this constant; readers use it to
// detect format drift.
const Version = "0.2.0"
