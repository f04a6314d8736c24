package provider

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/set718/keyrouter/internal/core/domain"
)

// GRPCInvoker calls one unary method whose request and response are
// google.protobuf.Struct messages. The credential's key travels as bearer
// metadata, so a single connection serves every credential.
type GRPCInvoker struct {
	target string
	method string
	conn   *grpc.ClientConn
	keys   keyring
}

// NewGRPCInvoker creates a gRPC invoker for method (e.g. "/chat.v1.Chat/Send").
// Without opts, TLS is used for https:// or :443 targets and plaintext otherwise.
func NewGRPCInvoker(
	target, method string,
	keys map[domain.CredentialID]string,
	opts ...grpc.DialOption,
) (*GRPCInvoker, error) {
	dialTarget := target
	if len(opts) == 0 {
		if strings.HasPrefix(target, "https://") || strings.HasSuffix(target, ":443") {
			opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{})))
			dialTarget = strings.TrimPrefix(target, "https://")
		} else {
			opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
			dialTarget = strings.TrimPrefix(target, "http://")
		}
	}

	conn, err := grpc.NewClient(dialTarget, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCInvoker{
		target: target,
		method: method,
		conn:   conn,
		keys:   newKeyring(keys),
	}, nil
}

// Invoke sends one request with credential id and returns a ChatResponse.
func (p *GRPCInvoker) Invoke(ctx context.Context, id domain.CredentialID, req any) (any, error) {
	chat, err := asChatRequest(req)
	if err != nil {
		return nil, domain.NewFailure(domain.KindInvalidRequest, err)
	}

	key, err := p.keys.lookup(id)
	if err != nil {
		return nil, err
	}

	inputs := chat.Inputs
	if inputs == nil {
		inputs = map[string]any{}
	}
	in, err := structpb.NewStruct(map[string]any{
		"query":           chat.Query,
		"user":            chat.User,
		"conversation_id": chat.ConversationID,
		"inputs":          inputs,
	})
	if err != nil {
		return nil, domain.NewFailure(domain.KindInvalidRequest, fmt.Errorf("encode request: %w", err))
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+key)

	out := &structpb.Struct{}
	if err := p.conn.Invoke(ctx, p.method, in, out); err != nil {
		return nil, ClassifyGRPCError(err)
	}

	fields := out.GetFields()
	return &ChatResponse{
		Answer:         fields["answer"].GetStringValue(),
		ConversationID: fields["conversation_id"].GetStringValue(),
		MessageID:      fields["message_id"].GetStringValue(),
	}, nil
}

// Close cleans up resources.
func (p *GRPCInvoker) Close() error {
	return p.conn.Close()
}

// ClassifyGRPCError maps a gRPC status to a failure. ResourceExhausted
// carries the server's RetryInfo delay when present.
func ClassifyGRPCError(err error) *domain.Failure {
	st, ok := status.FromError(err)
	if !ok {
		return domain.NewFailure(domain.KindTransient, err)
	}

	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return domain.NewFailure(domain.KindAuthRejected, err)
	case codes.ResourceExhausted:
		f := domain.NewFailure(domain.KindRateLimited, err)
		f.RetryAfter = retryDelay(st)
		return f
	case codes.DeadlineExceeded:
		return domain.NewFailure(domain.KindTimedOut, err)
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange,
		codes.Unimplemented, codes.NotFound:
		return domain.NewFailure(domain.KindInvalidRequest, err)
	default:
		if DetectThrottlePattern(st.Message()) {
			return domain.NewFailure(domain.KindRateLimited, err)
		}
		return domain.NewFailure(domain.KindTransient, err)
	}
}

func retryDelay(st *status.Status) time.Duration {
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.RetryInfo); ok {
			return info.GetRetryDelay().AsDuration()
		}
	}
	return 0
}
