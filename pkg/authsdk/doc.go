/*
Package authsdk is a small Go client for the authgate REST API.

# Overview

authgate fronts an external identity provider. The SDK mirrors its four
account endpoints and the health checks:

	client := authsdk.NewSDKClient("https://auth.example.com")

	// Register a new account
	user, err := client.Register(ctx, authsdk.RegisterRequest{
		Username:    "john123",
		Email:       "john@example.com",
		Password:    "s3cret-pass",
		FirstName:   "John",
		LastName:    "Doe",
		DateOfBirth: "1990-04-01T00:00:00Z",
	})

	// Log in, which yields a Session carrying the provider's access token
	session, err := client.Login(ctx, "john123", "s3cret-pass")

	// Read the current user with that token
	me, err := session.Me(ctx)

	// Ask the provider to resend the verification email
	msg, err := client.ResendVerificationEmail(ctx, "john123")

# Error Handling

Every non-2xx answer is returned as *APIError carrying the HTTP status, the
error code and, for validation failures, the per-field messages:

	_, err := client.Register(ctx, req)
	var apiErr *authsdk.APIError
	if errors.As(err, &apiErr) && apiErr.Code == authsdk.ErrorCodeUsernameTaken {
		// pick another name
	}

IsCode is a shorthand for that check.

# Thread Safety

SDKClient and Session hold no mutable state after construction and are safe
for concurrent use.
*/
package authsdk
