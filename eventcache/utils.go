package eventcache

import (
	"crypto/sha512"

	"github.com/zhongshixi/eventcache/treap"
)

func zeroValue[V any]() V {
	var v V
	return v
}

// keyID maps a user key onto the fixed width storage key space.
func keyID(key string) treap.ID {
	return treap.ID(sha512.Sum512([]byte(key)))
}
