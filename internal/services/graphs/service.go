package graphs

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/TheMichaelB/graphsync/internal/events"
	"github.com/TheMichaelB/graphsync/internal/models"
	"github.com/TheMichaelB/graphsync/internal/transport"
)

// Service provides graph control-plane operations over the sync socket.
type Service struct {
	provider transport.Provider
	logger   *events.Logger
}

// NewService creates a graphs service.
func NewService(provider transport.Provider, logger *events.Logger) *Service {
	return &Service{
		provider: provider,
		logger:   logger.WithField("service", "graphs"),
	}
}

// call sends one correlated request and checks the response for ex-data.
func (s *Service) call(ctx context.Context, req *models.Request) (*models.Frame, error) {
	req.ReqID = uuid.NewString()

	conn, err := s.provider.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	frame, err := conn.Call(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Action, err)
	}
	if frame.Failed() {
		return nil, fmt.Errorf("%s: %w", req.Action, frame.Err())
	}
	return frame, nil
}

// List fetches the graphs visible to the current user.
func (s *Service) List(ctx context.Context) ([]models.GraphInfo, error) {
	frame, err := s.call(ctx, &models.Request{Action: models.ActionListGraphs})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Graphs []models.GraphInfo `json:"graphs"`
	}
	if err := frame.Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse graph list: %w", err)
	}

	s.logger.WithField("count", len(resp.Graphs)).Debug("Fetched graph list")
	return resp.Graphs, nil
}

// Delete removes a remote graph.
func (s *Service) Delete(ctx context.Context, graphUUID string) error {
	_, err := s.call(ctx, &models.Request{
		Action:    models.ActionDeleteGraph,
		GraphUUID: graphUUID,
	})
	if err != nil {
		return err
	}

	s.logger.WithField("graph_uuid", graphUUID).Info("Deleted remote graph")
	return nil
}

// UsersInfo fetches the collaborators of a graph.
func (s *Service) UsersInfo(ctx context.Context, graphUUID string) ([]models.UserInfo, error) {
	frame, err := s.call(ctx, &models.Request{
		Action:    models.ActionGetUsersInfo,
		GraphUUID: graphUUID,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users []models.UserInfo `json:"users"`
	}
	if err := frame.Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse users info: %w", err)
	}
	return resp.Users, nil
}

// GrantAccess shares a graph with other users.
func (s *Service) GrantAccess(ctx context.Context, graphUUID string, targetUserUUIDs []string) error {
	_, err := s.call(ctx, &models.Request{
		Action:          models.ActionGrantAccess,
		GraphUUID:       graphUUID,
		TargetUserUUIDs: targetUserUUIDs,
	})
	if err != nil {
		return err
	}

	s.logger.WithFields(map[string]interface{}{
		"graph_uuid": graphUUID,
		"users":      len(targetUserUUIDs),
	}).Info("Granted graph access")
	return nil
}

// BlockContentVersions fetches the saved versions of blocks.
func (s *Service) BlockContentVersions(ctx context.Context, graphUUID string, blockUUIDs []string) ([]models.BlockVersion, error) {
	frame, err := s.call(ctx, &models.Request{
		Action:     models.ActionQueryBlockContentVersions,
		GraphUUID:  graphUUID,
		BlockUUIDs: blockUUIDs,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Versions []models.BlockVersion `json:"versions"`
	}
	if err := frame.Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse block versions: %w", err)
	}
	return resp.Versions, nil
}

// Snapshot asks the server to snapshot a graph.
func (s *Service) Snapshot(ctx context.Context, graphUUID string) (*models.SnapshotInfo, error) {
	frame, err := s.call(ctx, &models.Request{
		Action:    models.ActionSnapshotGraph,
		GraphUUID: graphUUID,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Snapshot models.SnapshotInfo `json:"snapshot"`
	}
	if err := frame.Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse snapshot: %w", err)
	}
	return &resp.Snapshot, nil
}

// SnapshotList fetches a graph's snapshots.
func (s *Service) SnapshotList(ctx context.Context, graphUUID string) ([]models.SnapshotInfo, error) {
	frame, err := s.call(ctx, &models.Request{
		Action:    models.ActionSnapshotList,
		GraphUUID: graphUUID,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Snapshots []models.SnapshotInfo `json:"snapshot-list"`
	}
	if err := frame.Decode(&resp); err != nil {
		return nil, fmt.Errorf("parse snapshot list: %w", err)
	}
	return resp.Snapshots, nil
}
