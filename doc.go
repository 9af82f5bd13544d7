/*
Package tiptree provides a versioned, hierarchical, content-addressed
store. A tree is a map of maps addressed by slash-delimited paths, and
every revision of it is identified by a tip: the content identifier
(CID) of its root node. Trees can be huge (not limited to memory) and
can be stored in anything that can store and load named blobs, like a
filesystem, KV store, or blob store.

Uses

- Keeping every version of a configuration or document tree, with cheap
reads of any past version

- Publishing state as a single hash that readers can verify block by
block

- Diffing versions to drive change notifications


How it works

Values are strings, integers of any size, floats, booleans, nulls,
sequences, maps, and links. Each node of a tree is a map encoded as
canonical CBOR, and stored in a block named by the BLAKE2b-256 hash of
its encoding. A map that grows too large, or that was created as an
intermediate step of a path, is stored as its own node and referred
to from its parent by a Link. Otherwise, values are kept inline.

Writing a value at a path rewrites only the nodes from the root down
to that path; every other node is shared with the previous revision
by hash. Since nodes never change once stored, a tip is a consistent
snapshot forever, and reads never block writers.

Store.Apply and Store.Resolve are the two primitive operations; Tree
adds a single-writer history of revisions on top, persisted so it
can be reopened by OpenTree.

Concurrency

A Store can be shared by any number of goroutines. Writes to one tree
must be serialized by the caller; Tree does this. Two writes derived
from the same tip both succeed, producing two diverging tips.
*/
package tiptree
