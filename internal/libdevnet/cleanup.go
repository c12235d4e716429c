package libdevnet

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	docker "github.com/fsouza/go-dockerclient"
)

// CleanupOptions selects which devnet resources a cleanup run touches.
type CleanupOptions struct {
	InstanceID string        // limit to one devnet instance, empty for all
	OlderThan  time.Duration // only resources created at least this long ago
	DryRun     bool          // report without removing
	Role       string        // limit to one node role
}

// instanceFilter builds the docker label filter matching devnet containers.
func instanceFilter(instanceID, role string) map[string][]string {
	labels := []string{LabelDevnetInstance}
	if instanceID != "" {
		labels = append(labels, LabelDevnetInstance+"="+instanceID)
	}
	if role != "" {
		labels = append(labels, LabelDevnetRole+"="+role)
	}
	return map[string][]string{"label": labels}
}

func listByLabel(ctx context.Context, client *docker.Client, instanceID, role string) ([]docker.APIContainers, error) {
	containers, err := client.ListContainers(docker.ListContainersOptions{
		Context: ctx,
		All:     true,
		Filters: instanceFilter(instanceID, role),
	})
	if err != nil {
		return nil, fmt.Errorf("can't list containers: %v", err)
	}
	return containers, nil
}

// CleanupDevnetContainers removes devnet containers matching opts, then the
// leftover devnet networks.
func CleanupDevnetContainers(ctx context.Context, client *docker.Client, opts CleanupOptions) error {
	containers, err := listByLabel(ctx, client, opts.InstanceID, opts.Role)
	if err != nil {
		return err
	}
	for _, c := range containers {
		if !oldEnough(c.Labels, opts.OlderThan) {
			continue
		}
		desc := fmt.Sprintf("container %s (%s)", c.ID[:12], roleLabel(c.Labels))
		if opts.DryRun {
			fmt.Println("would remove", desc)
			continue
		}
		err := client.RemoveContainer(docker.RemoveContainerOptions{ID: c.ID, Force: true})
		if err != nil {
			fmt.Printf("can't remove %s: %v\n", desc, err)
			continue
		}
		fmt.Println("removed", desc)
	}

	// Stale networks hold on to their subnets, remove them too.
	return cleanupDevnetNetworks(ctx, client, opts)
}

// oldEnough reports whether a container's creation label passes the age
// filter. Containers without a parseable timestamp are kept.
func oldEnough(labels map[string]string, olderThan time.Duration) bool {
	if olderThan <= 0 {
		return true
	}
	created, err := time.Parse(time.RFC3339, labels[LabelDevnetCreated])
	return err == nil && time.Since(created) >= olderThan
}

func roleLabel(labels map[string]string) string {
	if role := labels[LabelDevnetRole]; role != "" {
		return role
	}
	return "unknown"
}

func cleanupDevnetNetworks(ctx context.Context, client *docker.Client, opts CleanupOptions) error {
	networks, err := client.FilteredListNetworks(docker.NetworkFilterOpts{
		"label": map[string]bool{LabelDevnetInstance: true},
	})
	if err != nil {
		return fmt.Errorf("can't list networks: %v", err)
	}
	for _, network := range networks {
		if opts.InstanceID != "" && network.Labels[LabelDevnetInstance] != opts.InstanceID {
			continue
		}
		desc := fmt.Sprintf("network %s (%s)", network.ID[:12], network.Name)
		if opts.DryRun {
			fmt.Println("would remove", desc)
			continue
		}
		if err := client.RemoveNetwork(network.ID); err != nil {
			fmt.Printf("can't remove %s: %v\n", desc, err)
			continue
		}
		fmt.Println("removed", desc)
	}
	return nil
}

// ListDevnetContainers prints the devnet containers and their label metadata
// as a table.
func ListDevnetContainers(ctx context.Context, client *docker.Client, instanceID string) error {
	containers, err := listByLabel(ctx, client, instanceID, "")
	if err != nil {
		return err
	}
	if len(containers) == 0 {
		fmt.Println("no devnet containers found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tNAME\tROLE\tSTATUS\tCREATED\tINSTANCE\tIMAGE")
	for _, c := range containers {
		created := c.Labels[LabelDevnetCreated]
		if ts, err := time.Parse(time.RFC3339, created); err == nil {
			created = ts.Format("2006-01-02 15:04")
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			c.ID[:12], containerName(c), roleLabel(c.Labels), c.Status, created,
			c.Labels[LabelDevnetInstance], c.Labels[LabelDevnetImage])
	}
	return tw.Flush()
}

// containerName returns the container's primary name without the leading
// slash docker adds.
func containerName(c docker.APIContainers) string {
	if len(c.Names) == 0 {
		return ""
	}
	return strings.TrimPrefix(c.Names[0], "/")
}
