package translog

import (
	"github.com/transparency-dev/merkle/proof"
	"github.com/transparency-dev/merkle/rfc6962"
)

// LeafHash returns the RFC 6962 hash of a log leaf.
func LeafHash(leaf []byte) []byte {
	return rfc6962.DefaultHasher.HashLeaf(leaf)
}

// NodeHash returns the RFC 6962 hash of an interior node.
func NodeHash(left, right []byte) []byte {
	return rfc6962.DefaultHasher.HashChildren(left, right)
}

// VerifyInclusion checks that leafHash is the leaf at index in a tree of
// size treeSize whose root is root.
func VerifyInclusion(index, treeSize uint64, leafHash []byte, hashes [][]byte, root []byte) error {
	return proof.VerifyInclusion(rfc6962.DefaultHasher, index, treeSize, leafHash, hashes, root)
}
