// Package httpapi binds the webhook receiver and the admin surface to gin.
//
// The receiver route accepts POST only and caps the request body; everything
// after the raw bytes are read is delegated to webhooks.Receiver. Admin
// routes under /admin/events are mounted only when http.admin_enabled is set.
package httpapi
