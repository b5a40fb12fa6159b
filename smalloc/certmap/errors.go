// Copyright 2013 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package certmap

import "errors"

// ErrFull is returned by Node.Insert when the node is already at its load
// factor cap and the key being inserted is new. Updating an
// existing key is always allowed, even on a full node.
var ErrFull = errors.New("certmap: node is at its load factor cap")
