package entity

import (
	"context"
	"sort"
	"strings"

	"github.com/r3data-core/rdatacore/internal/apierrors"
)

// Browse returns a folder view of the entities directly under path: a child
// segment with deeper entries below it as a folder, and entities whose path
// equals path or is a direct child of it as files, folders first then files,
// both groups lexicographic by name (§4.C browse()).
func (s *Store) Browse(ctx context.Context, path string, page Page) ([]BrowseEntry, error) {
	base := NormalizePath(path)
	prefix := base
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	const q = `
		SELECT id, entity_type, path
		FROM entities
		WHERE path = $1 OR path LIKE $2
		ORDER BY path`

	rows, err := s.conn.QueryContext(ctx, q, base, prefix+"%")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "browse entities", err)
	}
	defer rows.Close()

	folderSeen := make(map[string]bool)

	var folders, files []BrowseEntry

	for rows.Next() {
		var (
			id, entityType, entityPath string
		)

		if err := rows.Scan(&id, &entityType, &entityPath); err != nil {
			return nil, apierrors.Wrap(apierrors.KindStorage, "scan browse row", err)
		}

		if entityPath == base {
			files = append(files, BrowseEntry{
				Kind: "file", Name: lastSegment(entityPath), Path: entityPath,
				EntityID: id, EntityType: entityType,
			})

			continue
		}

		rest := strings.TrimPrefix(entityPath, prefix)

		childName, isDirect := firstSegment(rest)
		if childName == "" {
			continue
		}

		childPath := prefix + childName

		if !isDirect {
			if !folderSeen[childPath] {
				folderSeen[childPath] = true

				folders = append(folders, BrowseEntry{
					Kind: "folder", Name: childName, Path: childPath, HasChildren: true,
				})
			}

			continue
		}

		files = append(files, BrowseEntry{
			Kind: "file", Name: childName, Path: entityPath, EntityID: id, EntityType: entityType,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, apierrors.Wrap(apierrors.KindStorage, "iterate browse rows", err)
	}

	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	entries := append(folders, files...)

	return paginate(entries, page), nil
}

// firstSegment returns the first path segment of rest and whether rest was
// exactly that segment (a direct child, not a deeper descendant).
func firstSegment(rest string) (string, bool) {
	if rest == "" {
		return "", false
	}

	idx := strings.IndexByte(rest, '/')
	if idx < 0 {
		return rest, true
	}

	return rest[:idx], false
}

func lastSegment(path string) string {
	idx := strings.LastIndexByte(path, '/')
	if idx < 0 {
		return path
	}

	return path[idx+1:]
}

func paginate(entries []BrowseEntry, page Page) []BrowseEntry {
	if page.Offset >= len(entries) {
		return []BrowseEntry{}
	}

	end := len(entries)
	if page.Limit > 0 && page.Offset+page.Limit < end {
		end = page.Offset + page.Limit
	}

	return entries[page.Offset:end]
}
