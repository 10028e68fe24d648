package http

import (
	"github.com/frankli0324/go-asynchttp/internal"
)

// Client sends requests through an asynchronous engine. The zero value is
// ready to use and dials with a [CoreDialer].
type Client = internal.Client
