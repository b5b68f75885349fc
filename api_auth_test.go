package lmsauth_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	lms "github.com/lmsapp/lmsauth"
	"github.com/lmsapp/lmsauth/client"
	lmsgrpc "github.com/lmsapp/lmsauth/grpc"
)

func TestLogin(t *testing.T) {
	env := newEnv(t)
	env.signup(t, "alice", "alice@example.com", "password123")

	t.Run("by username", func(t *testing.T) {
		resp, body := env.post(t, "/users/login", map[string]string{"username": "alice", "password": "password123"})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "no-store", resp.Header.Get("Cache-Control"))

		tr := tokensFrom(t, body)
		assert.Equal(t, "Bearer", tr.TokenType)
		assert.EqualValues(t, lms.TokenExpiryAccessToken.Seconds(), tr.ExpiresIn)
		assert.EqualValues(t, lms.TokenExpiryRefreshToken.Seconds(), tr.RefreshExpiresIn)

		username, role, err := env.app.Auth.ValidateAccessToken(tr.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, "alice", username)
		assert.Equal(t, lms.RoleStudent, role)

		// the refresh token is not an access token
		_, _, err = env.app.Auth.ValidateAccessToken(tr.RefreshToken)
		assert.Error(t, err)
	})

	t.Run("by email", func(t *testing.T) {
		resp, _ := env.post(t, "/users/login", map[string]string{"username": "Alice@Example.com", "password": "password123"})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, body := env.post(t, "/users/login", map[string]string{"username": "alice", "password": "nope-nope"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("unknown user", func(t *testing.T) {
		resp, body := env.post(t, "/users/login", map[string]string{"username": "mallory", "password": "password123"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "invalid_grant", body["error"])
	})

	t.Run("missing fields", func(t *testing.T) {
		resp, body := env.post(t, "/users/login", map[string]string{"username": "alice"})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_request", body["error"])
	})
}

func TestSignup(t *testing.T) {
	env := newEnv(t)

	t.Run("driver role", func(t *testing.T) {
		resp, body := env.post(t, "/driver/signup", client.SignupRequest{
			Username: "dave",
			Phone:    "555-123-4567",
			Password: "password123",
		})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		_, role, err := env.app.Auth.ValidateAccessToken(tokensFrom(t, body).AccessToken)
		require.NoError(t, err)
		assert.Equal(t, lms.RoleDriver, role)
	})

	t.Run("duplicate", func(t *testing.T) {
		env.signup(t, "erin", "erin@example.com", "password123")
		resp, body := env.post(t, "/students/signup", client.SignupRequest{
			Username: "erin2",
			Email:    "erin@example.com",
			Password: "password123",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "user_exists", body["error"])
	})

	tests := []struct {
		name string
		req  client.SignupRequest
		want string
	}{
		{"short username", client.SignupRequest{Username: "ab", Email: "a@example.com", Password: "password123"}, "username must be 3-20 characters"},
		{"bad chars", client.SignupRequest{Username: "bad name", Email: "a@example.com", Password: "password123"}, "username can only contain letters, numbers, underscores, and hyphens"},
		{"no contact", client.SignupRequest{Username: "frank", Password: "password123"}, "email or phone required"},
		{"bad email", client.SignupRequest{Username: "frank", Email: "frank@", Password: "password123"}, "invalid email format"},
		{"short phone", client.SignupRequest{Username: "frank", Phone: "12345", Password: "password123"}, "invalid phone number"},
		{"short password", client.SignupRequest{Username: "frank", Email: "f@example.com", Password: "short"}, "password must be at least 8 characters"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.post(t, "/students/signup", tt.req)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Equal(t, tt.want, body["error_description"])
		})
	}
}

func TestRefreshRotation(t *testing.T) {
	env := newEnv(t)
	first := env.signup(t, "alice", "alice@example.com", "password123")

	resp, body := env.post(t, "/users/refresh-token", map[string]string{"refreshToken": first.RefreshToken})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	second := tokensFrom(t, body)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.NotEmpty(t, second.AccessToken)

	// replaying the first token is treated as theft
	resp, body = env.post(t, "/users/refresh-token", map[string]string{"refreshToken": first.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "invalid_grant", body["error"])

	// and takes the current token down with it
	resp, _ = env.post(t, "/users/refresh-token", map[string]string{"refreshToken": second.RefreshToken})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// other sessions are unaffected
	resp, body = env.post(t, "/users/login", map[string]string{"username": "alice", "password": "password123"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	other := tokensFrom(t, body)
	resp, _ = env.post(t, "/users/refresh-token", map[string]string{"refreshToken": other.RefreshToken})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRefreshRejects(t *testing.T) {
	env := newEnv(t)
	tokens := env.signup(t, "alice", "alice@example.com", "password123")

	t.Run("missing token", func(t *testing.T) {
		resp, body := env.post(t, "/users/refresh-token", map[string]string{})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "invalid_request", body["error"])
	})

	t.Run("garbage", func(t *testing.T) {
		resp, _ := env.post(t, "/users/refresh-token", map[string]string{"refreshToken": "not-a-jwt"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("access token", func(t *testing.T) {
		resp, _ := env.post(t, "/users/refresh-token", map[string]string{"refreshToken": tokens.AccessToken})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("expired", func(t *testing.T) {
		env.clock.advance(lms.TokenExpiryRefreshToken + time.Minute)
		resp, _ := env.post(t, "/users/refresh-token", map[string]string{"refreshToken": tokens.RefreshToken})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestRequireBearer(t *testing.T) {
	env := newEnv(t)
	tokens := env.signup(t, "alice", "alice@example.com", "password123")

	resp := env.get(t, "/classes/list", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode, "class list is public")

	resp = env.get(t, "/courses/list", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, `Bearer realm="api"`, resp.Header.Get("WWW-Authenticate"))

	resp = env.get(t, "/courses/list", tokens.RefreshToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = env.get(t, "/courses/list", tokens.AccessToken)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	env.clock.advance(lms.TokenExpiryAccessToken + time.Second)
	resp = env.get(t, "/courses/list", tokens.AccessToken)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCatalog(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "alice", "alice@example.com", "password123").AccessToken

	decode := func(resp *http.Response) map[string]any {
		out := map[string]any{}
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
		return out
	}

	t.Run("courses by class", func(t *testing.T) {
		resp := env.get(t, "/courses/list?classId=c11", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		courses := decode(resp)["courses"].([]any)
		assert.Len(t, courses, 1)
	})

	t.Run("course", func(t *testing.T) {
		resp := env.get(t, "/courses/math-10", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "Mathematics", decode(resp)["title"])

		assert.Equal(t, http.StatusNotFound, env.get(t, "/courses/nope", token).StatusCode)
	})

	t.Run("chapters ordered", func(t *testing.T) {
		resp := env.get(t, "/chapters/list?courseId=math-10", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		chapters := decode(resp)["chapters"].([]any)
		require.Len(t, chapters, 2)
		assert.Equal(t, "Real Numbers", chapters[0].(map[string]any)["title"])

		assert.Equal(t, http.StatusBadRequest, env.get(t, "/chapters/list", token).StatusCode)
	})

	t.Run("subsections and content", func(t *testing.T) {
		resp := env.get(t, "/subsections/list?chapterId=math-10-1", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, decode(resp)["subsections"].([]any), 2)

		resp = env.get(t, "/contents/t1", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "text", decode(resp)["kind"])
	})

	t.Run("class list is public", func(t *testing.T) {
		resp := env.get(t, "/classes/list", "")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		body := decode(resp)
		assert.Len(t, body["classes"].([]any), 2)
		assert.NotContains(t, body, "my_class_id")
	})

	t.Run("class list for a signed-in student", func(t *testing.T) {
		resp := env.get(t, "/classes/list", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "c10", decode(resp)["my_class_id"])
	})

	t.Run("class list ignores a bad token", func(t *testing.T) {
		resp := env.get(t, "/classes/list", "not-a-token")
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotContains(t, decode(resp), "my_class_id")
	})

	t.Run("me", func(t *testing.T) {
		resp := env.get(t, "/students/me", token)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		me := decode(resp)
		assert.Equal(t, "alice", me["username"])
		assert.Equal(t, "c10", me["class_id"])
		assert.NotContains(t, me, "password_hash")
	})
}

func TestVerifyToken_GRPCInterceptor(t *testing.T) {
	env := newEnv(t)
	token := env.signup(t, "alice", "alice@example.com", "password123").AccessToken

	interceptor := lmsgrpc.UnaryAuthInterceptor(lmsgrpc.DefaultInterceptorConfig(env.app.Auth.VerifyToken))
	info := &grpc.UnaryServerInfo{FullMethod: "/lms.Catalog/ListCourses"}
	handler := func(ctx context.Context, _ any) (any, error) {
		return lmsgrpc.SubjectFromContext(ctx), nil
	}

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	subject, err := interceptor(ctx, nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "alice", subject)

	ctx = metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer forged"))
	_, err = interceptor(ctx, nil, info, handler)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
