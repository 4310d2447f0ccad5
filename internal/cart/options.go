package cart

// Option adjusts how a single mutation reports its outcome.
type Option func(*options)

type options struct {
	success string
	silent  bool
}

// WithSuccess publishes msg as a success notice when the mutation succeeds.
func WithSuccess(msg string) Option {
	return func(o *options) { o.success = msg }
}

// Silent suppresses the failure notice. The error is still returned.
func Silent() Option {
	return func(o *options) { o.silent = true }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
