package ws

// SetBeforeWrite installs fn ahead of every data frame write. Call it before
// the handler serves its first connection.
func SetBeforeWrite(h *Handler, fn func()) { h.beforeWrite = fn }
