package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestClassifyTransportError(t *testing.T) {
	t.Parallel()

	loc := "https://shop.example/sitemap.xml"

	fe := ClassifyTransportError(loc, context.DeadlineExceeded)
	require.Equal(t, KindTimeout, fe.Kind)
	require.True(t, fe.Timeout())

	fe = ClassifyTransportError(loc, &url.Error{Op: "Get", URL: loc, Err: timeoutErr{}})
	require.Equal(t, KindTimeout, fe.Kind)

	refused := errors.New("connect: connection refused")
	fe = ClassifyTransportError(loc, fmt.Errorf("dial: %w", refused))
	require.Equal(t, KindNetwork, fe.Kind)
	require.ErrorIs(t, fe, refused)
	require.Equal(t, loc, fe.Locator)

	status := &FetchError{Kind: KindHTTPStatus, Locator: loc, StatusCode: 503}
	require.Same(t, status, ClassifyTransportError(loc, fmt.Errorf("wrapped: %w", status)))
}

func TestFetchErrorMessages(t *testing.T) {
	t.Parallel()

	loc := "https://shop.example/a.xml"
	require.Equal(t, "fetch "+loc+": http status 404 Not Found",
		(&FetchError{Kind: KindHTTPStatus, Locator: loc, StatusCode: 404}).Error())
	require.Equal(t, "fetch "+loc+": timed out", (&FetchError{Kind: KindTimeout, Locator: loc}).Error())
	require.Equal(t, "fetch "+loc+": disallowed by robots.txt", (&FetchError{Kind: KindBlocked, Locator: loc}).Error())
	require.Equal(t, "fetch "+loc+": refused", (&FetchError{Kind: KindNetwork, Locator: loc, Err: errors.New("refused")}).Error())
}
