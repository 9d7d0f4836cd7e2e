package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	azarm "github.com/Azure/azure-sdk-for-go/sdk/azcore/arm"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/msi/armmsi"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/flavioaiello/containerapps/pkg/apperrors"
	"github.com/flavioaiello/containerapps/pkg/auth"
	"github.com/flavioaiello/containerapps/pkg/envelope"
)

// Role assignment defaults.
const (
	// AcrPullRoleID is the built-in AcrPull role definition.
	AcrPullRoleID = "7f951dda-4ed3-4680-a7ca-43fe172d538d"
	// DefaultAttempts is the number of role assignment attempts.
	DefaultAttempts = 10
	// DefaultBackoff is the wait between attempts while the principal
	// propagates.
	DefaultBackoff = 5 * time.Second

	roleAssignmentExistsCode = "RoleAssignmentExists"
	roleDefinitionPathFormat = "/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s"
	auditRoleAssignment      = "acrpull_role_assignment"
	auditSuccess             = "success"
	auditFailure             = "failure"
)

// Errors.
var (
	ErrRoleAssignmentFailed = errors.New("role assignment failed")
	ErrPrincipalNotFound    = errors.New("identity has no principal id")
)

// RoleAssignmentCreator creates role assignments.
// *armauthorization.RoleAssignmentsClient implements it.
type RoleAssignmentCreator interface {
	Create(ctx context.Context, scope, roleAssignmentName string, parameters armauthorization.RoleAssignmentCreateParameters, options *armauthorization.RoleAssignmentsClientCreateOptions) (armauthorization.RoleAssignmentsClientCreateResponse, error)
}

// Sleeper waits between attempts. *lro.Poller implements it.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timeSleeper struct{}

func (timeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return apperrors.FromContext(ctx.Err())
	case <-time.After(d):
		return nil
	}
}

// RoleAssigner grants the AcrPull role on registries.
type RoleAssigner struct {
	roles          RoleAssignmentCreator
	subscriptionID string
	logger         *zap.Logger
	sleeper        Sleeper
	attempts       int
	backoff        time.Duration
}

// RoleOption configures a RoleAssigner.
type RoleOption func(*RoleAssigner)

// WithSleeper replaces the wall-clock wait between attempts.
func WithSleeper(s Sleeper) RoleOption {
	return func(a *RoleAssigner) {
		a.sleeper = s
	}
}

// WithRetry overrides the attempt count and backoff.
func WithRetry(attempts int, backoff time.Duration) RoleOption {
	return func(a *RoleAssigner) {
		a.attempts = attempts
		a.backoff = backoff
	}
}

// NewRoleAssigner creates a role assigner backed by armauthorization.
func NewRoleAssigner(subscriptionID string, cred azcore.TokenCredential, clientOpts *azarm.ClientOptions, logger *zap.Logger, opts ...RoleOption) (*RoleAssigner, error) {
	client, err := armauthorization.NewRoleAssignmentsClient(subscriptionID, cred, clientOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	return NewRoleAssignerWithClient(client, subscriptionID, logger, opts...), nil
}

// NewRoleAssignerWithClient creates a role assigner around an existing
// client.
func NewRoleAssignerWithClient(roles RoleAssignmentCreator, subscriptionID string, logger *zap.Logger, opts ...RoleOption) *RoleAssigner {
	a := &RoleAssigner{
		roles:          roles,
		subscriptionID: subscriptionID,
		logger:         logger,
		sleeper:        timeSleeper{},
		attempts:       DefaultAttempts,
		backoff:        DefaultBackoff,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AssignAcrPull grants principalID the AcrPull role on registryID. An
// existing assignment is success. New principals take a while to become
// visible, so failures are retried; the final failure is Unauthorized and
// names the manual command.
func (a *RoleAssigner) AssignAcrPull(ctx context.Context, principalID, registryID string) error {
	roleDefinitionID := fmt.Sprintf(roleDefinitionPathFormat, a.subscriptionID, AcrPullRoleID)
	name := AssignmentName(registryID, roleDefinitionID, principalID)
	params := armauthorization.RoleAssignmentCreateParameters{
		Properties: &armauthorization.RoleAssignmentProperties{
			RoleDefinitionID: to.Ptr(roleDefinitionID),
			PrincipalID:      to.Ptr(principalID),
			PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
		},
	}

	a.logger.Info("Assigning AcrPull role",
		zap.String("scope", registryID),
		zap.String("principalId", principalID),
	)

	var lastErr error
	for attempt := 1; attempt <= a.attempts; attempt++ {
		_, err := a.roles.Create(ctx, registryID, name, params, nil)
		if err == nil || isRoleAssignmentExists(err) {
			a.logger.Info("AcrPull role assigned",
				zap.String("assignmentName", name),
				zap.Int("attempt", attempt),
			)
			auth.LogAuditEvent(a.logger, auditRoleAssignment, registryID, principalID, auditSuccess)
			return nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return apperrors.FromContext(ctx.Err())
		}
		a.logger.Debug("Role assignment attempt failed",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < a.attempts {
			if err := a.sleeper.Sleep(ctx, a.backoff); err != nil {
				return err
			}
		}
	}

	auth.LogAuditEvent(a.logger, auditRoleAssignment, registryID, principalID, auditFailure)
	return &apperrors.Error{
		Kind: apperrors.KindUnauthorized,
		Message: fmt.Sprintf("%v: %v. To add the role assignment manually, please run "+
			"'az role assignment create --assignee %s --scope %s --role acrpull'. "+
			"You may have to restart the container app with 'az containerapp revision restart'",
			ErrRoleAssignmentFailed, lastErr, principalID, registryID),
		Target: registryID,
		Err:    lastErr,
	}
}

// AssignmentName derives a stable role assignment name so repeated calls
// address the same assignment.
func AssignmentName(scope, roleDefinitionID, principalID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(scope+"|"+roleDefinitionID+"|"+principalID)).String()
}

func isRoleAssignmentExists(err error) bool {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		return respErr.ErrorCode == roleAssignmentExistsCode
	}
	return errors.Is(apperrors.Classify(err), apperrors.ErrAlreadyExists)
}

// IdentityGetter reads user-assigned identities in one subscription.
// *armmsi.UserAssignedIdentitiesClient implements it.
type IdentityGetter interface {
	Get(ctx context.Context, resourceGroupName, resourceName string, options *armmsi.UserAssignedIdentitiesClientGetOptions) (armmsi.UserAssignedIdentitiesClientGetResponse, error)
}

// IdentityGetterFactory returns the getter for a subscription.
type IdentityGetterFactory func(subscriptionID string) (IdentityGetter, error)

// PrincipalResolver resolves user-assigned identity ids to principal ids.
type PrincipalResolver struct {
	getters IdentityGetterFactory
	logger  *zap.Logger
}

// NewPrincipalResolver creates a resolver backed by armmsi.
func NewPrincipalResolver(cred azcore.TokenCredential, clientOpts *azarm.ClientOptions, logger *zap.Logger) *PrincipalResolver {
	return NewPrincipalResolverWithFactory(func(subscriptionID string) (IdentityGetter, error) {
		client, err := armmsi.NewUserAssignedIdentitiesClient(subscriptionID, cred, clientOpts)
		if err != nil {
			return nil, fmt.Errorf("failed to create identities client: %w", err)
		}
		return client, nil
	}, logger)
}

// NewPrincipalResolverWithFactory creates a resolver around a factory.
func NewPrincipalResolverWithFactory(getters IdentityGetterFactory, logger *zap.Logger) *PrincipalResolver {
	return &PrincipalResolver{getters: getters, logger: logger}
}

// PrincipalID returns the principal id of the identity identityID.
func (r *PrincipalResolver) PrincipalID(ctx context.Context, identityID string) (string, error) {
	rid, err := envelope.ParseResourceID(identityID)
	if err != nil {
		return "", apperrors.Validation("invalid identity %q: %v", identityID, err)
	}
	getter, err := r.getters(rid.SubscriptionID)
	if err != nil {
		return "", err
	}
	resp, err := getter.Get(ctx, rid.ResourceGroup, rid.Name, nil)
	if err != nil {
		return "", apperrors.FromSDK(err)
	}
	if resp.Properties == nil || resp.Properties.PrincipalID == nil || *resp.Properties.PrincipalID == "" {
		return "", fmt.Errorf("%w: %s", ErrPrincipalNotFound, identityID)
	}
	r.logger.Debug("Resolved identity principal",
		zap.String("identity", rid.Name),
		zap.String("principalId", *resp.Properties.PrincipalID),
	)
	return *resp.Properties.PrincipalID, nil
}
