package demoserver

// Exposure is a file the demo server can leak.
type Exposure struct {
	Path        string
	Description string
	ContentType string
	Body        string
}

// GetAllExposures returns every file the demo server knows how to serve. The
// bodies carry the signatures of the sample rules.
func GetAllExposures() []Exposure {
	return []Exposure{
		{
			Path:        "/.env",
			Description: "Environment file with credentials",
			ContentType: "text/plain",
			Body: `APP_ENV=production
DB_HOST=10.0.0.12
DB_USER=app
DB_PASSWORD=s3cr3t-demo
AWS_ACCESS_KEY_ID=AKIADEMODEMODEMO
`,
		},
		{
			Path:        "/.git/config",
			Description: "Git repository metadata",
			ContentType: "text/plain",
			Body: `[core]
	repositoryformatversion = 0
	filemode = true
	bare = false
[remote "origin"]
	url = git@example.com:demo/site.git
	fetch = +refs/heads/*:refs/remotes/origin/*
`,
		},
		{
			Path:        "/phpinfo.php",
			Description: "PHP configuration dump",
			ContentType: "text/html",
			Body:        `<html><head><title>phpinfo()</title></head><body><h1>PHP Version 8.1.2</h1><table><tr><td>System</td><td>Linux demo</td></tr></table></body></html>`,
		},
		{
			Path:        "/server-status",
			Description: "Apache mod_status page",
			ContentType: "text/html",
			Body:        `<html><head><title>Apache Status</title></head><body><h1>Apache Server Status for demo.local</h1><dl><dt>Server uptime: 3 days</dt></dl></body></html>`,
		},
		{
			Path:        "/backup.sql",
			Description: "Database dump",
			ContentType: "application/sql",
			Body: `-- MySQL dump 10.13
CREATE TABLE users (id INT PRIMARY KEY, email VARCHAR(255), password_hash VARCHAR(255));
INSERT INTO users VALUES (1,'admin@example.com','$2y$10$demo');
`,
		},
		{
			Path:        "/.DS_Store",
			Description: "macOS folder metadata",
			ContentType: "application/octet-stream",
			Body:        "\x00\x00\x00\x01Bud1\x00\x00",
		},
	}
}
