package pacegate

import (
	"github.com/pacegate/pacegate/pkg/pacegate"
)

// Re-export main types for convenience
type (
	Limiter         = pacegate.Limiter
	Config          = pacegate.Config
	Group           = pacegate.Group
	GroupConfig     = pacegate.GroupConfig
	GroupStatus     = pacegate.GroupStatus
	Permit          = pacegate.Permit
	Option          = pacegate.Option
	ViolationOption = pacegate.ViolationOption
)

// Rate limit groups
const (
	GroupPublicRead        = pacegate.GroupPublicRead
	GroupPrivateDefault    = pacegate.GroupPrivateDefault
	GroupPrivateOrder      = pacegate.GroupPrivateOrder
	GroupPrivateBulkCancel = pacegate.GroupPrivateBulkCancel
	GroupWebSocket         = pacegate.GroupWebSocket
)

// New creates a new limiter
var New = pacegate.New

// Constructors and option helpers
var (
	DefaultConfig  = pacegate.DefaultConfig
	WithConfig     = pacegate.WithConfig
	WithConfigFile = pacegate.WithConfigFile
	WithLogger     = pacegate.WithLogger
	WithRetryAfter = pacegate.WithRetryAfter
	WithEndpoint   = pacegate.WithEndpoint
)

// Sentinel errors
var (
	ErrAcquireTimeout = pacegate.ErrAcquireTimeout
	ErrUnknownGroup   = pacegate.ErrUnknownGroup
	ErrClosed         = pacegate.ErrClosed
)
