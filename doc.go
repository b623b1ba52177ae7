/*
Package overlaycache implements a local cache of document overlays on top of
an ordered key-value store (in this case, on top of Bolt).

An overlay is the net effect of all pending local writes to one document,
tagged with the id of the largest write batch that contributed to it. Each
user has their own set of overlays.

We implement:

1. A primary store keyed by (user, document), holding the batch id and the
serialized mutation.

2. Three indexes, kept in sync with the primary store by hand: by batch id (to
drop all overlays of an acknowledged batch), by collection (to list the
overlays of one collection), and by collection group (to list the overlays of
all collections sharing a name).

# Technical Details

**Buckets.**
Everything lives in a single bucket called “overlays”. Key shapes are told
apart by a tag byte, so a flat store would work just as well.

**Atomicity.**
Every public write goes through one writable transaction. The steps of an
operation (retire old index entries, write the record, write new index
entries) are collected into a write batch and applied right before the
commit.

## Binary encoding

**Keys**: format version byte, tag byte, then the fields of the key shape:

	overlay:                 user, document path
	batch index:             user, batch id, document path
	collection index:        user, collection path, batch id, document id
	collection group index:  user, group, batch id, collection path, document id

Strings escape 0x00 as 0x00 0xFF and end with 0x00 0x01, paths end with
0x00 0x00, batch ids are big-endian with the sign bit flipped. Byte order of
keys equals the logical order of their fields, so index scans come out sorted
by batch id.

**Index values** are empty.

**Overlay value**:
1. Flags (uvarint).
2. Largest batch id (varint).
3. Mutation size (uvarint), then the mutation bytes (msgpack by default).
4. xxhash64 of everything above (8 bytes), if the checksum flag is set.
*/
package overlaycache
